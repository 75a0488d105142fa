// Package retry provides the pure retry policy shared by the offline queue
// and the realtime reconnection loop.
package retry

import (
	"math/rand"
	"time"

	"github.com/plateshare/synckit/internal/errors"
)

// jitterFactor bounds the random jitter added to each exponential delay.
const jitterFactor = 0.3

// Preset is a backoff configuration: exponential by default, linear when
// Linear is set (delay = base * (attempt+1)).
type Preset struct {
	Name      string
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Linear    bool
}

// Reconnection presets. The realtime layer picks one by name from config.
var (
	PresetImmediate    = Preset{Name: "immediate", BaseDelay: 500 * time.Millisecond, MaxDelay: 2 * time.Second}
	PresetAggressive   = Preset{Name: "aggressive", BaseDelay: time.Second, MaxDelay: 30 * time.Second}
	PresetDefault      = Preset{Name: "default", BaseDelay: 2 * time.Second, MaxDelay: time.Minute}
	PresetConservative = Preset{Name: "conservative", BaseDelay: 5 * time.Second, MaxDelay: 5 * time.Minute}
	PresetLinear       = Preset{Name: "linear", BaseDelay: 2 * time.Second, MaxDelay: time.Minute, Linear: true}

	// PresetQueue is the offline-queue default: 5s base, 5m cap.
	PresetQueue = Preset{Name: "queue", BaseDelay: 5 * time.Second, MaxDelay: 5 * time.Minute}
)

// PresetByName resolves a preset from its configured name, falling back to
// the default preset for unknown names.
func PresetByName(name string) Preset {
	switch name {
	case "immediate":
		return PresetImmediate
	case "aggressive":
		return PresetAggressive
	case "conservative":
		return PresetConservative
	case "linear":
		return PresetLinear
	case "queue":
		return PresetQueue
	default:
		return PresetDefault
	}
}

// ShouldRetry decides whether a failed attempt may be retried. It is false
// once retryCount reaches maxRetries, and always false for codes in the
// non-retryable set.
func ShouldRetry(retryCount, maxRetries int, code errors.ErrorCode) bool {
	if retryCount >= maxRetries {
		return false
	}
	return errors.IsRetryable(code)
}

// Delay returns the backoff delay for the given attempt under a preset.
// Exponential mode: base * 2^attempt plus jitter drawn uniformly from
// [0, 0.3 * exponential], capped at the preset maximum. Linear mode:
// base * (attempt + 1), capped.
func Delay(attempt int, p Preset) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	if p.Linear {
		d := p.BaseDelay * time.Duration(attempt+1)
		if d > p.MaxDelay {
			return p.MaxDelay
		}
		return d
	}

	// Shift guard: beyond 62 doublings any realistic base overflows int64.
	if attempt > 62 {
		return p.MaxDelay
	}
	exp := p.BaseDelay << uint(attempt)
	if exp <= 0 || exp > p.MaxDelay {
		return p.MaxDelay
	}

	jitter := time.Duration(rand.Int63n(int64(jitterFactor*float64(exp)) + 1))
	d := exp + jitter
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
