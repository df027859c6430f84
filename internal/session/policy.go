package session

import (
	"math"
	"math/rand"
	"time"

	"github.com/nhle/mailsync/internal/model"
)

// RetryPolicy decides how long a session waits before reconnecting
// after an unplanned disconnect. Attempt counts from zero and resets
// after every successful mailbox open.
type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

// ConstantDelay retries forever at a fixed interval. This is the
// default policy; retries never stop until the account is explicitly
// stopped.
type ConstantDelay time.Duration

func (d ConstantDelay) NextDelay(int) time.Duration { return time.Duration(d) }

// ExponentialBackoff grows the delay per attempt with optional jitter.
type ExponentialBackoff struct {
	// Initial is the first delay (default 1s).
	Initial time.Duration

	// Max caps the delay (default 5m).
	Max time.Duration

	// Multiplier increases the delay per attempt (default 2.0).
	Multiplier float64

	// Jitter randomizes the delay by +/- this fraction (0..1).
	Jitter float64
}

func (b ExponentialBackoff) NextDelay(attempt int) time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = time.Second
	}
	max := b.Max
	if max <= 0 {
		max = 5 * time.Minute
	}
	multiplier := b.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := float64(initial) * math.Pow(multiplier, float64(attempt))
	if delay > float64(max) {
		delay = float64(max)
	}

	if b.Jitter > 0 {
		jitterRange := delay * b.Jitter
		delay = delay - jitterRange + rand.Float64()*2*jitterRange
	}

	return time.Duration(delay)
}

// PolicyFromConfig builds the retry policy the configuration asks for,
// defaulting to the constant-delay behavior.
func PolicyFromConfig(cfg model.SyncConfig) RetryPolicy {
	switch cfg.RetryPolicy {
	case "exponential":
		return ExponentialBackoff{
			Initial: cfg.RetryDelay(),
			Jitter:  0.1,
		}
	default:
		return ConstantDelay(cfg.RetryDelay())
	}
}
