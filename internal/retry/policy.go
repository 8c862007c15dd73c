// Package retry computes retry delays for work that is re-polled on later ticks
// instead of blocking.
package retry

import (
	"fmt"
	"time"

	"git.home.luguber.info/inful/buildorch/internal/foundation/normalization"
)

// Mode selects how the delay grows between attempts.
type Mode string

const (
	ModeFixed       Mode = "fixed"
	ModeLinear      Mode = "linear"
	ModeExponential Mode = "exponential"
)

var modeNormalizer = normalization.NewNormalizer(map[string]Mode{
	"fixed":       ModeFixed,
	"linear":      ModeLinear,
	"exponential": ModeExponential,
	"exp":         ModeExponential,
}, ModeFixed)

// ParseMode maps a mode name to a Mode; unknown names fall back to fixed.
func ParseMode(raw string) Mode {
	return modeNormalizer.Normalize(raw)
}

// Unbounded as MaxRetries means retry forever; an external watchdog bounds the run.
const Unbounded = -1

// Policy encapsulates retry/backoff settings. It is immutable after construction.
type Policy struct {
	Mode       Mode          // fixed|linear|exponential
	Initial    time.Duration // base delay
	Max        time.Duration // cap for growth
	MaxRetries int           // retries after the first failure, or Unbounded
}

// FixedPolicy retries forever with the same delay between attempts.
func FixedPolicy(delay time.Duration) Policy {
	return NewPolicy(ModeFixed, delay, delay, Unbounded)
}

// DefaultPolicy returns a fixed one-second policy without an attempt limit.
func DefaultPolicy() Policy {
	return Policy{Mode: ModeFixed, Initial: time.Second, Max: time.Second, MaxRetries: Unbounded}
}

// NewPolicy builds a policy from raw fields; zero/invalid values fall back to defaults.
func NewPolicy(mode Mode, initial, maxDuration time.Duration, maxRetries int) Policy {
	p := DefaultPolicy()
	if maxRetries >= 0 || maxRetries == Unbounded {
		p.MaxRetries = maxRetries
	}
	if initial > 0 {
		p.Initial = initial
		if p.Max < initial {
			p.Max = initial
		}
	}
	if maxDuration > 0 {
		p.Max = maxDuration
	}
	switch mode {
	case ModeFixed, ModeLinear, ModeExponential:
		p.Mode = mode
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// Delay returns the delay before the given retry attempt (1-based: first retry => 1).
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	switch p.Mode {
	case ModeExponential:
		shift := min(retryCount-1, 30)
		d := p.Initial * (1 << shift)
		if d > p.Max || d <= 0 {
			return p.Max
		}
		return d
	case ModeLinear:
		d := time.Duration(retryCount) * p.Initial
		if d > p.Max {
			return p.Max
		}
		return d
	default:
		return p.Initial
	}
}

// Exhausted reports whether retryCount exceeds the attempt limit.
func (p Policy) Exhausted(retryCount int) bool {
	return p.MaxRetries != Unbounded && retryCount > p.MaxRetries
}

// Validate ensures invariants; returns error if policy impossible to apply.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max must be >0")
	}
	if p.MaxRetries < 0 && p.MaxRetries != Unbounded {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}
