package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/kielitutor/tutor/pkg/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
})

func request(remote string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/message", nil)
	req.RemoteAddr = remote
	return req
}

func TestRateLimiter_BurstThenReject(t *testing.T) {
	h := NewRateLimiter(0.5, 2).Handler(okHandler)

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, request("10.0.0.1:1234"))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, request("10.0.0.1:5678"))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want %q", got, "2")
	}
	var body models.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Success || body.Error.Kind != "rate_limited" {
		t.Errorf("body = %+v, want rate_limited failure", body)
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	h := NewRateLimiter(0.1, 1).Handler(okHandler)

	for _, remote := range []string{"10.0.0.1:1", "10.0.0.2:1", "10.0.0.3:1"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, request(remote))
		if rr.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", remote, rr.Code)
		}
	}
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"192.168.1.5:4000", "192.168.1.5"},
		{"[::1]:8080", "::1"},
		{"203.0.113.9", "203.0.113.9"},
	}
	for _, tt := range tests {
		if got := clientKey(request(tt.remote)); got != tt.want {
			t.Errorf("clientKey(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}

func TestResponseWriter_CapturesStatusAndBytes(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)

	rw.WriteHeader(http.StatusBadGateway)
	rw.Write([]byte("hello"))

	if rw.statusCode != http.StatusBadGateway {
		t.Errorf("statusCode = %d, want %d", rw.statusCode, http.StatusBadGateway)
	}
	if rw.bytes != 5 {
		t.Errorf("bytes = %d, want 5", rw.bytes)
	}
}

func TestTelemetry_PassesThrough(t *testing.T) {
	rr := httptest.NewRecorder()
	Logger(Telemetry(okHandler)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if rr.Body.String() != "ok" {
		t.Errorf("body = %q, want %q", rr.Body.String(), "ok")
	}
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestLogger_RecordsRouteAndAnnotations(t *testing.T) {
	buf := captureLog(t)

	r := chi.NewRouter()
	r.Use(Logger)
	r.Delete("/api/v1/chat/sessions/{sessionId}", func(w http.ResponseWriter, r *http.Request) {
		SetSession(r.Context(), chi.URLParam(r, "sessionId"))
		SetErrorKind(r.Context(), models.KindProvider)
		w.WriteHeader(http.StatusBadGateway)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/chat/sessions/s-42", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	want := map[string]any{
		"level":      "error",
		"route":      "/api/v1/chat/sessions/{sessionId}",
		"session_id": "s-42",
		"error_kind": models.KindProvider,
		"message":    "request",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("log[%s] = %v, want %v", k, entry[k], v)
		}
	}
}

func TestLogger_OmitsEmptyAnnotations(t *testing.T) {
	buf := captureLog(t)

	rr := httptest.NewRecorder()
	Logger(okHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if _, ok := entry["session_id"]; ok {
		t.Errorf("session_id should be omitted: %v", entry)
	}
	if entry["route"] != "/health" || entry["level"] != "info" {
		t.Errorf("entry = %v", entry)
	}
}

func TestAnnotations_OutsideLoggerAreNoop(t *testing.T) {
	ctx := context.Background()
	SetSession(ctx, "s1")
	SetErrorKind(ctx, models.KindExtraction)

	if a := GetAnnotations(ctx); a != nil {
		t.Fatalf("GetAnnotations() = %v, want nil", a)
	}
	if sid, kind := GetAnnotations(ctx).Values(); sid != "" || kind != "" {
		t.Errorf("Values() = %q, %q, want empty", sid, kind)
	}
}
