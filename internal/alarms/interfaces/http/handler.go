package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	alarmapp "github.com/Viniciusjohn/cnc-telemetry/internal/alarms/application"
	alarms "github.com/Viniciusjohn/cnc-telemetry/internal/alarms/domain"
)

// Engine is the alert engine surface exposed over HTTP.
type Engine interface {
	Rules(ctx context.Context) (alarms.RuleSet, error)
	RunCycle(ctx context.Context) (alarmapp.CycleResult, error)
}

type globalView struct {
	DedupeWindowSeconds int `json:"dedupe_window_seconds"`
	LookbackSeconds     int `json:"lookback_seconds"`
}

type rulesResponse struct {
	Count  int           `json:"count"`
	Rules  []alarms.Rule `json:"rules"`
	Global globalView    `json:"global"`
}

// Handler provides alert rule and evaluation endpoints.
type Handler struct {
	engine Engine
	logger *log.Logger
}

// NewHandler constructs a handler.
func NewHandler(engine Engine, logger *log.Logger) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("alerts handler: nil engine")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{engine: engine, logger: logger}, nil
}

// ServeHTTP handles /v1/alerts/rules and /v1/alerts/evaluate.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/v1/alerts/rules":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleRules(w, r)
	case "/v1/alerts/evaluate":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleEvaluate(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleRules(w http.ResponseWriter, r *http.Request) {
	set, err := h.engine.Rules(r.Context())
	if err != nil {
		h.logger.Printf("alerts handler: load rules: err=%v", err)
		http.Error(w, "rules unavailable", http.StatusInternalServerError)
		return
	}
	rules := set.Rules
	if rules == nil {
		rules = []alarms.Rule{}
	}
	writeJSON(w, http.StatusOK, rulesResponse{
		Count: len(rules),
		Rules: rules,
		Global: globalView{
			DedupeWindowSeconds: int(set.DedupeWindow.Seconds()),
			LookbackSeconds:     int(set.Lookback.Seconds()),
		},
	})
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.RunCycle(r.Context())
	if err != nil {
		h.logger.Printf("alerts handler: evaluate: err=%v", err)
		http.Error(w, "evaluation failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
