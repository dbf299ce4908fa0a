// Package retention runs the background sweep that forgets idle
// conversations. Sessions already read as empty once expired; the janitor
// reclaims their memory.
//
// The janitor runs as a background goroutine and respects context
// cancellation for graceful shutdown.
package retention

import (
	"context"
	"time"

	"github.com/kielitutor/tutor/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// DefaultInterval is used when the configured interval is below MinInterval.
const (
	DefaultInterval = 10 * time.Minute
	MinInterval     = time.Second
)

// Janitor periodically purges expired sessions.
type Janitor struct {
	store    contracts.SessionStore
	interval time.Duration
}

// NewJanitor creates a new session janitor that runs on the given interval.
func NewJanitor(s contracts.SessionStore, interval time.Duration) *Janitor {
	if interval < MinInterval {
		interval = DefaultInterval
	}
	return &Janitor{store: s, interval: interval}
}

// Interval returns the effective sweep interval.
func (j *Janitor) Interval() time.Duration { return j.interval }

// Start runs the sweep loop. It blocks until ctx is canceled.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().Dur("interval", j.interval).Msg("Session janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Session janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one sweep and returns the number of purged sessions.
func (j *Janitor) RunCycle(ctx context.Context) int {
	start := time.Now()
	n, err := j.store.PurgeExpired(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Session janitor: purge failed")
		return 0
	}
	if n > 0 {
		log.Info().
			Int("purged_sessions", n).
			Dur("elapsed", time.Since(start)).
			Msg("Session sweep complete")
	}
	return n
}
