package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	analytics "github.com/Viniciusjohn/cnc-telemetry/internal/analytics/application"
	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
)

type stubRoller struct {
	res   telemetry.Resolution
	start time.Time
	err   error
}

func (s *stubRoller) Rollup(_ context.Context, res telemetry.Resolution, windowStart time.Time) (analytics.WindowResult, error) {
	s.res = res
	s.start = windowStart
	if s.err != nil {
		return analytics.WindowResult{}, s.err
	}
	return analytics.WindowResult{Resolution: res, WindowStart: windowStart, WindowEnd: windowStart.Add(res.Span()), Machines: 2, Buckets: 1}, nil
}

func newHandler(t *testing.T, roller Roller) *WindowCloseHandler {
	t.Helper()
	handler, err := NewWindowCloseHandler(roller, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler
}

func TestWindowCloseDefaultsTo5m(t *testing.T) {
	roller := &stubRoller{}
	handler := newHandler(t, roller)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/rollups/close", strings.NewReader(`{"window_start":"2026-03-02T08:00:00Z"}`))
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if roller.res != telemetry.Resolution5m {
		t.Fatalf("resolution: got %s", roller.res)
	}
	var result analytics.WindowResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Buckets != 1 || !result.WindowEnd.Equal(time.Date(2026, 3, 2, 8, 5, 0, 0, time.UTC)) {
		t.Fatalf("result: got %+v", result)
	}
}

func TestWindowCloseRejectsBadInput(t *testing.T) {
	handler := newHandler(t, &stubRoller{})
	cases := []string{
		`not json`,
		`{}`,
		`{"window_start":"yesterday"}`,
		`{"window_start":"2026-03-02T08:00:00Z","resolution":"raw"}`,
		`{"window_start":"2026-03-02T08:00:00Z","resolution":"15m"}`,
	}
	for _, body := range cases {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/rollups/close", strings.NewReader(body)))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: got %d", body, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/rollups/close", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("method: got %d", rec.Code)
	}
}

func TestWindowCloseStoreFailure(t *testing.T) {
	handler := newHandler(t, &stubRoller{err: errors.New("db down")})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/rollups/close", strings.NewReader(`{"window_start":"2026-03-02T08:00:00Z","resolution":"1h"}`))
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d", rec.Code)
	}
}
