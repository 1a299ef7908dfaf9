package main

import (
	"encoding/json"
	"errors"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// fakeReceiver stands in for Slack and generic webhook endpoints so alert
// delivery, signing and breaker behaviour can be exercised locally.
type fakeReceiver struct {
	start      time.Time
	latency    time.Duration
	failRate   float64
	signingKey []byte

	mu       sync.Mutex
	byRule   map[string]int64
	byStatus map[string]int64
	last     []receivedAlert
}

type receivedAlert struct {
	Channel    string    `json:"channel"`
	Rule       string    `json:"rule,omitempty"`
	MachineID  string    `json:"machine_id,omitempty"`
	Text       string    `json:"text"`
	Verified   bool      `json:"verified"`
	ReceivedAt time.Time `json:"received_at"`
}

type webhookPayload struct {
	AlertID   string `json:"alert_id"`
	Rule      string `json:"rule"`
	MachineID string `json:"machine_id"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

const keepLast = 50

func main() {
	addr := getenvDefault("FAKE_RECEIVER_ADDR", ":18080")
	srv := &fakeReceiver{
		start:      time.Now().UTC(),
		latency:    time.Duration(getenvIntDefault("FAKE_RECEIVER_LATENCY_MS", 0)) * time.Millisecond,
		failRate:   getenvFloatDefault("FAKE_RECEIVER_FAIL_RATE", 0),
		signingKey: []byte(getenvDefault("ALERT_WEBHOOK_SIGNING_KEY", "")),
		byRule:     make(map[string]int64),
		byStatus:   make(map[string]int64),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/metrics", srv.handleMetrics)
	mux.HandleFunc("/slack", srv.handleSlack)
	mux.HandleFunc("/webhook", srv.handleWebhook)

	log.Printf("fake alert receiver listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

func (s *fakeReceiver) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *fakeReceiver) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"started_at": s.start.Format(time.RFC3339),
		"by_rule":    s.byRule,
		"by_status":  s.byStatus,
		"last":       s.last,
	})
}

func (s *fakeReceiver) handleSlack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if status, ok := s.injectFailure(); !ok {
		w.WriteHeader(status)
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == "" {
		s.record("rejected", receivedAlert{})
		http.Error(w, "invalid_payload", http.StatusBadRequest)
		return
	}
	s.record("ok", receivedAlert{Channel: "slack", Text: body.Text, Verified: true, ReceivedAt: time.Now().UTC()})
	_, _ = w.Write([]byte("ok"))
}

func (s *fakeReceiver) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if status, ok := s.injectFailure(); !ok {
		w.WriteHeader(status)
		return
	}
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Rule == "" {
		s.record("rejected", receivedAlert{})
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	verified := false
	if len(s.signingKey) > 0 {
		if err := s.verify(r.Header.Get("Authorization"), payload); err != nil {
			log.Printf("webhook: signature rejected: rule=%s err=%v", payload.Rule, err)
			s.record("unauthorized", receivedAlert{})
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		verified = true
	}

	s.record("ok", receivedAlert{
		Channel:    "webhook",
		Rule:       payload.Rule,
		MachineID:  payload.MachineID,
		Text:       payload.Message,
		Verified:   verified,
		ReceivedAt: time.Now().UTC(),
	})
	w.WriteHeader(http.StatusAccepted)
}

func (s *fakeReceiver) verify(header string, payload webhookPayload) error {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return errors.New("missing bearer token")
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return err
	}
	if claims.Subject != payload.Rule {
		return errors.New("subject does not match rule")
	}
	if payload.AlertID != "" && claims.ID != payload.AlertID {
		return errors.New("token id does not match alert id")
	}
	return nil
}

// injectFailure applies the configured latency and random 5xx rate.
func (s *fakeReceiver) injectFailure() (int, bool) {
	if s.latency > 0 {
		time.Sleep(s.latency)
	}
	if s.failRate > 0 && rand.Float64() < s.failRate {
		s.record("injected_failure", receivedAlert{})
		return http.StatusServiceUnavailable, false
	}
	return http.StatusOK, true
}

func (s *fakeReceiver) record(status string, alert receivedAlert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byStatus[status]++
	if status != "ok" {
		return
	}
	if alert.Rule != "" {
		s.byRule[alert.Rule]++
	}
	s.last = append(s.last, alert)
	if len(s.last) > keepLast {
		s.last = s.last[len(s.last)-keepLast:]
	}
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
