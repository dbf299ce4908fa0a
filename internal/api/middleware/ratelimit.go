package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/kielitutor/tutor/pkg/models"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client address.
type RateLimiter struct {
	mu     sync.Mutex
	limits map[string]*visitor
	rps    rate.Limit
	burst  int
	now    func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// idleAfter is how long a client's bucket survives without traffic.
const idleAfter = 10 * time.Minute

// NewRateLimiter allows rps requests per second per client with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limits: make(map[string]*visitor),
		rps:    rate.Limit(rps),
		burst:  burst,
		now:    time.Now,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if v, ok := rl.limits[key]; ok {
		v.lastSeen = now
		return v.limiter
	}

	for k, v := range rl.limits {
		if now.Sub(v.lastSeen) > idleAfter {
			delete(rl.limits, k)
		}
	}

	limiter := rate.NewLimiter(rl.rps, rl.burst)
	rl.limits[key] = &visitor{limiter: limiter, lastSeen: now}
	return limiter
}

// Allow reports whether a request from key may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).AllowN(rl.now(), 1)
}

// Handler rejects requests over the limit with 429.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.Allow(clientKey(r)) {
			next.ServeHTTP(w, r)
			return
		}
		retry := 1
		if rl.rps > 0 {
			if secs := int(1 / float64(rl.rps)); secs > 1 {
				retry = secs
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(models.ErrorResponse{
			Success:   false,
			Error:     models.ErrorBody{Kind: "rate_limited", Message: "too many requests"},
			Timestamp: time.Now().UTC(),
		})
	})
}

// clientKey is the request's remote host. RealIP runs earlier in the chain.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
