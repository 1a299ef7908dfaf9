package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	telemetryapp "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/application"
	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
)

const (
	timeLayout  = time.RFC3339
	maxBodySize = 1 << 20
)

// IngestHandler accepts samples pushed by machine gateways.
type IngestHandler struct {
	service *telemetryapp.IngestService
	logger  *log.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(service *telemetryapp.IngestService, logger *log.Logger) (*IngestHandler, error) {
	if service == nil {
		return nil, errors.New("telemetry ingest: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{service: service, logger: logger}, nil
}

type ingestRequest struct {
	MachineID string   `json:"machine_id"`
	Timestamp string   `json:"timestamp"`
	RPM       *float64 `json:"rpm"`
	FeedRate  *float64 `json:"feed_rate"`
	FeedMMMin *float64 `json:"feed_mm_min"`
	State     string   `json:"state"`
	Sequence  *int64   `json:"sequence"`
}

func (r ingestRequest) toSample() (telemetry.Sample, error) {
	if r.MachineID == "" {
		return telemetry.Sample{}, errors.New("machine_id is required")
	}
	if r.Timestamp == "" {
		return telemetry.Sample{}, errors.New("timestamp is required")
	}
	ts, err := time.Parse(timeLayout, r.Timestamp)
	if err != nil {
		return telemetry.Sample{}, errors.New("timestamp must be RFC3339")
	}
	if r.RPM == nil {
		return telemetry.Sample{}, errors.New("rpm is required")
	}
	feed := r.FeedRate
	if feed == nil {
		feed = r.FeedMMMin
	}
	if feed == nil {
		return telemetry.Sample{}, errors.New("feed_rate is required")
	}
	state, err := telemetry.ParseState(r.State)
	if err != nil {
		return telemetry.Sample{}, err
	}
	return telemetry.Sample{
		MachineID: r.MachineID,
		Timestamp: ts.UTC(),
		RPM:       *r.RPM,
		FeedRate:  *feed,
		State:     state,
		Sequence:  r.Sequence,
	}, nil
}

// ServeHTTP ingests one sample.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.logger.Printf("telemetry ingest: read body error: %v", err)
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Printf("telemetry ingest: decode error: %v", err)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	sample, err := req.toSample()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.Ingest(r.Context(), sample); err != nil {
		if errors.Is(err, telemetry.ErrInvalidArgument) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Printf("telemetry ingest: store error: machine=%s err=%v", sample.MachineID, err)
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ingested":   true,
		"machine_id": sample.MachineID,
		"timestamp":  sample.Timestamp.Format(timeLayout),
	})
}
