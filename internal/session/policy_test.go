package session

import (
	"testing"
	"time"

	"github.com/nhle/mailsync/internal/model"
)

func TestConstantDelay(t *testing.T) {
	p := ConstantDelay(30 * time.Second)
	for _, attempt := range []int{0, 1, 5, 100} {
		if got := p.NextDelay(attempt); got != 30*time.Second {
			t.Errorf("NextDelay(%d) = %v, want 30s", attempt, got)
		}
	}
}

func TestExponentialBackoff(t *testing.T) {
	t.Run("doubles per attempt", func(t *testing.T) {
		p := ExponentialBackoff{Initial: time.Second, Max: time.Minute}
		want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
		for attempt, w := range want {
			if got := p.NextDelay(attempt); got != w {
				t.Errorf("NextDelay(%d) = %v, want %v", attempt, got, w)
			}
		}
	})

	t.Run("caps at max", func(t *testing.T) {
		p := ExponentialBackoff{Initial: time.Second, Max: 10 * time.Second}
		if got := p.NextDelay(20); got != 10*time.Second {
			t.Errorf("NextDelay(20) = %v, want the 10s cap", got)
		}
	})

	t.Run("jitter stays within bounds", func(t *testing.T) {
		p := ExponentialBackoff{Initial: 10 * time.Second, Max: time.Minute, Jitter: 0.2}
		for i := 0; i < 50; i++ {
			got := p.NextDelay(0)
			if got < 8*time.Second || got > 12*time.Second {
				t.Fatalf("NextDelay(0) = %v, want within 8s..12s", got)
			}
		}
	})

	t.Run("zero value uses sane defaults", func(t *testing.T) {
		var p ExponentialBackoff
		if got := p.NextDelay(0); got != time.Second {
			t.Errorf("NextDelay(0) = %v, want 1s", got)
		}
		if got := p.NextDelay(100); got != 5*time.Minute {
			t.Errorf("NextDelay(100) = %v, want the 5m cap", got)
		}
	})
}

func TestPolicyFromConfig(t *testing.T) {
	t.Run("default is constant", func(t *testing.T) {
		p := PolicyFromConfig(model.SyncConfig{RetryDelaySec: 30})
		if _, ok := p.(ConstantDelay); !ok {
			t.Fatalf("policy type = %T, want ConstantDelay", p)
		}
		if got := p.NextDelay(3); got != 30*time.Second {
			t.Errorf("NextDelay = %v, want 30s", got)
		}
	})

	t.Run("exponential", func(t *testing.T) {
		p := PolicyFromConfig(model.SyncConfig{RetryDelaySec: 5, RetryPolicy: "exponential"})
		b, ok := p.(ExponentialBackoff)
		if !ok {
			t.Fatalf("policy type = %T, want ExponentialBackoff", p)
		}
		if b.Initial != 5*time.Second {
			t.Errorf("Initial = %v, want 5s", b.Initial)
		}
	})
}
