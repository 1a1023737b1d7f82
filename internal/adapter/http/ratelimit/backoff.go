package ratelimit

import (
	"math"
	"math/rand"
	"time"
)

type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter bool
}

func NewBackoff(min, max time.Duration, factor float64) *Backoff {
	return &Backoff{
		Min:    min,
		Max:    max,
		Factor: factor,
		Jitter: true,
	}
}

// Duration returns the wait for the given attempt, starting at Min for the
// first and multiplying by Factor up to Max. Jitter scales it into [50%, 100%].
func (b *Backoff) Duration(attempt int) time.Duration {
	if attempt <= 0 {
		return b.Min
	}

	duration := float64(b.Min) * math.Pow(b.Factor, float64(attempt-1))

	if duration > float64(b.Max) {
		duration = float64(b.Max)
	}

	if b.Jitter {
		duration = duration * (0.5 + rand.Float64()*0.5)
	}

	return time.Duration(duration)
}
