package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// ── Request Annotations ─────────────────────────────────────

// Annotations carries what handlers learn about a request (the session it
// belongs to, the failure kind) back out to the request log.
type Annotations struct {
	mu        sync.Mutex
	sessionID string
	errorKind string
}

type annotationsKey struct{}

// SetSession records the conversation a request belongs to.
func SetSession(ctx context.Context, sessionID string) {
	if a, ok := ctx.Value(annotationsKey{}).(*Annotations); ok {
		a.mu.Lock()
		a.sessionID = sessionID
		a.mu.Unlock()
	}
}

// SetErrorKind records the failure kind a request ended with.
func SetErrorKind(ctx context.Context, kind string) {
	if a, ok := ctx.Value(annotationsKey{}).(*Annotations); ok {
		a.mu.Lock()
		a.errorKind = kind
		a.mu.Unlock()
	}
}

// GetAnnotations returns the request's annotations, or nil outside Logger.
func GetAnnotations(ctx context.Context) *Annotations {
	a, _ := ctx.Value(annotationsKey{}).(*Annotations)
	return a
}

// Values returns the recorded session id and error kind.
func (a *Annotations) Values() (sessionID, errorKind string) {
	if a == nil {
		return "", ""
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID, a.errorKind
}

// ── Logger ──────────────────────────────────────────────────

// slowRequest is the duration above which a successful request logs at warn.
const slowRequest = 45 * time.Second

// Logger returns structured request logging middleware. Bodies are never
// logged since they carry learner text.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := newResponseWriter(w)
		ann := &Annotations{}

		next.ServeHTTP(rw, r.WithContext(context.WithValue(r.Context(), annotationsKey{}, ann)))

		duration := time.Since(start)
		event := levelFor(rw.statusCode, duration)

		event.
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", routePattern(r)).
			Int("status", rw.statusCode).
			Int("bytes", rw.bytes).
			Dur("duration", duration).
			Str("remote", r.RemoteAddr)

		sessionID, errorKind := ann.Values()
		if sessionID != "" {
			event.Str("session_id", sessionID)
		}
		if errorKind != "" {
			event.Str("error_kind", errorKind)
		}
		event.Msg("request")
	})
}

func levelFor(status int, duration time.Duration) *zerolog.Event {
	switch {
	case status >= 500:
		return log.Error()
	case status >= 400, duration > slowRequest:
		return log.Warn()
	}
	return log.Info()
}

// routePattern returns the matched chi pattern, or the raw path before routing.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
