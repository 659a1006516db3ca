// Package backoff computes the exponential reschedule delay for a failed
// ScheduledWork.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Config mirrors the admin-tunable retry knobs.
type Config struct {
	Base    int  // retry_backoff_base, default 2
	Factor  int  // retry_backoff_factor seconds, default 3
	Max     int  // retry_backoff_max seconds, default 48
	Jitter  bool // off by default
}

// DefaultConfig returns the documented default tuning.
func DefaultConfig() Config {
	return Config{Base: 2, Factor: 3, Max: 48, Jitter: false}
}

// Duration computes backoff(attempt) = min(base^attempt * factor, max),
// optionally scaled by a uniform [0.5, 1.0) jitter.
func (c Config) Duration(attempt int) time.Duration {
	raw := math.Pow(float64(c.Base), float64(attempt)) * float64(c.Factor)
	capped := math.Min(raw, float64(c.Max))

	if c.Jitter {
		capped *= 0.5 + rand.Float64()*0.5
	}

	return time.Duration(capped * float64(time.Second))
}

// Exhausted reports whether a ScheduledWork at the given attempt count
// has used up its retry budget. The worker gets maxRetries+1 total
// tries before the row is discarded.
func Exhausted(attempt, maxRetries int) bool {
	return attempt > maxRetries
}
