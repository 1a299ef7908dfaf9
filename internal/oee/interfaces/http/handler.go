package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	oeeapp "github.com/Viniciusjohn/cnc-telemetry/internal/oee/application"
	oee "github.com/Viniciusjohn/cnc-telemetry/internal/oee/domain"
	"github.com/Viniciusjohn/cnc-telemetry/internal/observability/metrics"
)

const (
	machinesPrefix    = "/v1/machines/"
	defaultTrendDays  = 7
	defaultExportDays = 30
)

// Handler serves /v1/machines/{id}/oee, /oee/trend and /oee/export.
type Handler struct {
	calc   *oeeapp.Calculator
	logger *log.Logger
}

// NewHandler constructs a Handler.
func NewHandler(calc *oeeapp.Calculator, logger *log.Logger) (*Handler, error) {
	if calc == nil {
		return nil, errors.New("oee handler: nil calculator")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{calc: calc, logger: logger}, nil
}

// ServeHTTP routes OEE requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, machinesPrefix), "/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] != "oee" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	machineID := parts[0]

	shift, err := oee.ParseShift(r.URL.Query().Get("shift"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch {
	case len(parts) == 2:
		h.handleCompute(w, r, machineID, shift)
	case len(parts) == 3 && parts[2] == "trend":
		h.handleTrend(w, r, machineID, shift)
	case len(parts) == 3 && parts[2] == "export":
		h.handleExport(w, r, machineID, shift)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleCompute(w http.ResponseWriter, r *http.Request, machineID string, shift oee.Shift) {
	date := h.calc.Today()
	if value := r.URL.Query().Get("date"); value != "" {
		parsed, err := oee.ParseDate(value)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		date = parsed
	}
	result, err := h.calc.Compute(r.Context(), machineID, date, shift)
	if err != nil {
		h.respondError(w, machineID, err)
		return
	}
	benchmark := oee.Classify(result.OEE)
	result.Benchmark = &benchmark
	writeJSON(w, result)
}

func (h *Handler) handleTrend(w http.ResponseWriter, r *http.Request, machineID string, shift oee.Shift) {
	from, to, err := h.dateRange(r, defaultTrendDays)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	trend, err := h.calc.Trend(r.Context(), machineID, from, to, shift)
	if err != nil {
		h.respondError(w, machineID, err)
		return
	}
	for i := range trend {
		benchmark := oee.Classify(trend[i].OEE)
		trend[i].Benchmark = &benchmark
	}
	writeJSON(w, map[string]any{
		"machine_id": machineID,
		"from_date":  from.Format(oee.DateLayout),
		"to_date":    to.Format(oee.DateLayout),
		"shift":      shift,
		"trend":      trend,
	})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, machineID string, shift oee.Shift) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "csv"
	}
	switch format {
	case "csv", "json", "xlsx", "pdf":
	default:
		http.Error(w, "format must be csv, json, xlsx or pdf", http.StatusBadRequest)
		return
	}
	from, to, err := h.dateRange(r, defaultExportDays)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	trend, err := h.calc.Trend(r.Context(), machineID, from, to, shift)
	if err != nil {
		metrics.IncOEEExport(format, metrics.ResultError)
		h.respondError(w, machineID, err)
		return
	}

	fromLabel := from.Format(oee.DateLayout)
	toLabel := to.Format(oee.DateLayout)
	if format == "json" {
		metrics.IncOEEExport(format, metrics.ResultSuccess)
		writeJSON(w, map[string]any{
			"machine_id": machineID,
			"from_date":  fromLabel,
			"to_date":    toLabel,
			"format":     "json",
			"data":       trend,
		})
		return
	}

	var (
		content     []byte
		contentType string
	)
	switch format {
	case "csv":
		content, err = BuildTrendCSV(trend)
		contentType = "text/csv; charset=utf-8"
	case "xlsx":
		content, err = BuildTrendXLSX(machineID, fromLabel, toLabel, trend)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		content, err = BuildTrendPDF(machineID, fromLabel, toLabel, trend)
		contentType = "application/pdf"
	}
	if err != nil {
		metrics.IncOEEExport(format, metrics.ResultError)
		h.logger.Printf("oee export: render failed: machine=%s format=%s err=%v", machineID, format, err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	metrics.IncOEEExport(format, metrics.ResultSuccess)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=oee_%s_%s_%s.%s", machineID, fromLabel, toLabel, format))
	_, _ = w.Write(content)
}

// dateRange reads from_date/to_date, defaulting to the trailing days ending today.
func (h *Handler) dateRange(r *http.Request, days int) (time.Time, time.Time, error) {
	to := h.calc.Today()
	if value := r.URL.Query().Get("to_date"); value != "" {
		parsed, err := oee.ParseDate(value)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed
	}
	from := to.AddDate(0, 0, -days)
	if value := r.URL.Query().Get("from_date"); value != "" {
		parsed, err := oee.ParseDate(value)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}
	return from, to, nil
}

func (h *Handler) respondError(w http.ResponseWriter, machineID string, err error) {
	if errors.Is(err, oee.ErrInvalidArgument) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.logger.Printf("oee handler: compute failed: machine=%s err=%v", machineID, err)
	http.Error(w, "oee calculation failed", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
