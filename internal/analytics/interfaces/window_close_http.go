package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	analytics "github.com/Viniciusjohn/cnc-telemetry/internal/analytics/application"
	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
)

// Roller closes one rollup window.
type Roller interface {
	Rollup(ctx context.Context, res telemetry.Resolution, windowStart time.Time) (analytics.WindowResult, error)
}

// WindowCloseHandler closes rollup windows on demand.
type WindowCloseHandler struct {
	roller Roller
	logger *log.Logger
}

// NewWindowCloseHandler constructs the handler.
func NewWindowCloseHandler(roller Roller, logger *log.Logger) (*WindowCloseHandler, error) {
	if roller == nil {
		return nil, errors.New("window close handler: nil roller")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &WindowCloseHandler{roller: roller, logger: logger}, nil
}

// ServeHTTP handles POST /v1/rollups/close.
func (h *WindowCloseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("window close: read body error: %v", err)
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req windowCloseRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Printf("window close: decode error: %v", err)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	res, windowStart, err := req.resolveWindow()
	if err != nil {
		h.logger.Printf("window close: invalid payload: %v", err)
		http.Error(w, "invalid payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.roller.Rollup(r.Context(), res, windowStart)
	if err != nil {
		if errors.Is(err, analytics.ErrInvalidWindow) {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		h.logger.Printf("window close: rollup error: resolution=%s err=%v", res, err)
		http.Error(w, "rollup error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

type windowCloseRequest struct {
	Resolution  string `json:"resolution"`
	WindowStart string `json:"window_start"`
}

func (r windowCloseRequest) resolveWindow() (telemetry.Resolution, time.Time, error) {
	if r.WindowStart == "" {
		return "", time.Time{}, errors.New("missing window_start")
	}
	label := r.Resolution
	if label == "" {
		label = string(telemetry.Resolution5m)
	}
	res, err := telemetry.ParseResolution(label)
	if err != nil {
		return "", time.Time{}, err
	}
	if res.Span() == 0 {
		return "", time.Time{}, errors.New("raw is not a rollup resolution")
	}
	start, err := time.Parse(time.RFC3339, r.WindowStart)
	if err != nil {
		return "", time.Time{}, err
	}
	return res, start.UTC(), nil
}
