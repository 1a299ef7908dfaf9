package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	telemetryapp "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/application"
	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
	"github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/livestatus"
)

const machinesPrefix = "/v1/machines"

// MachinesHandler serves machine status and history endpoints.
type MachinesHandler struct {
	history *telemetryapp.HistoryService
	cache   *livestatus.Cache
	logger  *log.Logger
	routes  map[string]http.Handler
}

// MachinesOption customizes the machines handler.
type MachinesOption func(*MachinesHandler)

// WithMachineRoute delegates /v1/machines/{id}/{segment}[/...] to handler.
func WithMachineRoute(segment string, handler http.Handler) MachinesOption {
	return func(h *MachinesHandler) {
		if segment != "" && handler != nil {
			h.routes[segment] = handler
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) MachinesOption {
	return func(h *MachinesHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewMachinesHandler constructs a MachinesHandler.
func NewMachinesHandler(history *telemetryapp.HistoryService, cache *livestatus.Cache, opts ...MachinesOption) (*MachinesHandler, error) {
	if history == nil {
		return nil, errors.New("machines handler: nil history service")
	}
	if cache == nil {
		return nil, errors.New("machines handler: nil status cache")
	}
	h := &MachinesHandler{
		history: history,
		cache:   cache,
		logger:  log.Default(),
		routes:  make(map[string]http.Handler),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ServeHTTP routes machine requests.
func (h *MachinesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, machinesPrefix), "/")
	if path == "" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, map[string]any{"machines": h.cache.List()})
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	machineID := parts[0]
	if !telemetry.ValidMachineID(machineID) {
		http.Error(w, "invalid machine_id", http.StatusBadRequest)
		return
	}

	if next, ok := h.routes[parts[1]]; ok {
		next.ServeHTTP(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch {
	case len(parts) == 2 && parts[1] == "status":
		h.handleStatus(w, machineID)
	case len(parts) == 2 && parts[1] == "history":
		h.handleHistory(w, r, machineID)
	case len(parts) == 3 && parts[1] == "history" && parts[2] == "summary":
		h.handleSummary(w, r, machineID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *MachinesHandler) handleStatus(w http.ResponseWriter, machineID string) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Vary", "Origin, Accept-Encoding")
	writeJSON(w, h.cache.Get(machineID))
}

func (h *MachinesHandler) handleHistory(w http.ResponseWriter, r *http.Request, machineID string) {
	from, err := parseOptionalTime(r, "from_ts")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseOptionalTime(r, "to_ts")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resValue := r.URL.Query().Get("resolution")
	if resValue == "" {
		resValue = string(telemetry.Resolution5m)
	}
	res, err := telemetry.ParseResolution(resValue)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit := 0
	if value := r.URL.Query().Get("limit"); value != "" {
		limit, err = strconv.Atoi(value)
		if err != nil {
			http.Error(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
	}

	rows, err := h.history.Resolve(r.Context(), machineID, from, to, res, limit)
	if err != nil {
		h.respondError(w, "history", machineID, err)
		return
	}
	writeJSON(w, map[string]any{
		"machine_id": machineID,
		"from_ts":    r.URL.Query().Get("from_ts"),
		"to_ts":      r.URL.Query().Get("to_ts"),
		"resolution": res,
		"count":      len(rows),
		"data":       rows,
	})
}

func (h *MachinesHandler) handleSummary(w http.ResponseWriter, r *http.Request, machineID string) {
	from, err := parseOptionalTime(r, "from_ts")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseOptionalTime(r, "to_ts")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	summary, err := h.history.Summary(r.Context(), machineID, from, to)
	if err != nil {
		h.respondError(w, "summary", machineID, err)
		return
	}
	writeJSON(w, summary)
}

func (h *MachinesHandler) respondError(w http.ResponseWriter, op, machineID string, err error) {
	if errors.Is(err, telemetry.ErrInvalidArgument) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.logger.Printf("machines handler: %s failed: machine=%s err=%v", op, machineID, err)
	http.Error(w, "query failed", http.StatusInternalServerError)
}

func parseOptionalTime(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
