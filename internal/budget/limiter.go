package budget

import (
	"time"

	"golang.org/x/time/rate"
)

// TickWallTime is the environment's per-invocation wall-time budget. The
// limiter paces a batch's outbound calls so a burst of fast responses can't
// spend the whole call budget before a slow collaborator even replies.
const TickWallTime = 30 * time.Second

// NewLimiter sizes a token-bucket limiter to spread cfg's safe call budget
// evenly across the tick's wall-time budget, with a burst of one batch's
// worth of calls so ProcessBatch's initial fan-out isn't throttled against
// itself.
func NewLimiter(cfg Config, batchSize int) *rate.Limiter {
	safe := cfg.SafeLimit()
	if safe <= 0 {
		safe = 1
	}
	callsPerSecond := float64(safe) / TickWallTime.Seconds()

	burst := EstimateCalls(batchSize)
	if burst < 1 {
		burst = 1
	}

	return rate.NewLimiter(rate.Limit(callsPerSecond), burst)
}
