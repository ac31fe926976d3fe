package batch

import (
	"math"
	"time"

	"accord/pkg/provision/core/config"
)

// Backoff computes retry delays from the configured exponential schedule.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	factor  float64
}

// NewBackoff creates a Backoff from the retry configuration.
func NewBackoff(cfg config.RetryConfig) *Backoff {
	return &Backoff{
		initial: time.Duration(cfg.InitialInterval) * time.Millisecond,
		max:     time.Duration(cfg.MaxInterval) * time.Millisecond,
		factor:  cfg.Factor,
	}
}

// Delay returns the backoff before the given attempt. Attempt 1 waits the
// initial interval; each further attempt multiplies by the factor, capped at
// the maximum.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(b.initial) * math.Pow(b.factor, float64(attempt-1)))
	if d > b.max || d < 0 {
		return b.max
	}
	return d
}
