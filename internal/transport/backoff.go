package transport

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// BackoffConfig shapes the reconnect delay: exponential from Initial,
// multiplied by Multiplier per failure, capped at Max, each delay randomized
// by ±Jitter (a fraction).
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// DefaultBackoff is 100ms doubling up to 10s with ±50% jitter.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Initial:    100 * time.Millisecond,
		Max:        10 * time.Second,
		Multiplier: 2,
		Jitter:     0.5,
	}
}

func (c BackoffConfig) newBackOff() *backoff.ExponentialBackOff {
	def := DefaultBackoff()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = orDefault(c.Initial, def.Initial)
	b.MaxInterval = orDefault(c.Max, def.Max)
	b.Multiplier = def.Multiplier
	if c.Multiplier >= 1 {
		b.Multiplier = c.Multiplier
	}
	b.RandomizationFactor = def.Jitter
	if c.Jitter >= 0 && c.Jitter <= 1 {
		b.RandomizationFactor = c.Jitter
	}
	b.Reset()
	return b
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// sleepContext waits for d or until ctx is done. Reports whether the full
// delay elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
