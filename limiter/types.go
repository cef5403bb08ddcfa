// limiter/types.go
// Purpose: Rate limit rule definitions and the per-check decision type
// shared by the engine and the HTTP middleware.

package limiter

import (
	"fmt"
	"strings"
	"time"
)

// Algorithm selects how a RateLimit rule counts requests.
type Algorithm int

const (
	FixedWindow Algorithm = iota
	Burst
	SlidingWindow
)

// String returns the string representation of Algorithm.
func (a Algorithm) String() string {
	switch a {
	case FixedWindow:
		return "fixed-window"
	case Burst:
		return "burst"
	case SlidingWindow:
		return "sliding-window"
	default:
		return "unknown"
	}
}

// ParseAlgorithm maps a config string to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed-window", "fixed_window", "fixed":
		return FixedWindow, nil
	case "burst":
		return Burst, nil
	case "sliding-window", "sliding_window", "sliding":
		return SlidingWindow, nil
	default:
		return FixedWindow, fmt.Errorf("unknown algorithm: %q", s)
	}
}

// RateLimit is one immutable rate-limit rule.
type RateLimit struct {
	Algorithm      Algorithm
	MaxRequests    int
	WindowSeconds  int
	BurstAllowance int
}

// Window returns the rule window as a duration.
func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// Normalize fills defaults and validates the rule. Burst rules without an
// allowance get max(1, MaxRequests/10).
func (r *RateLimit) Normalize() error {
	if r.MaxRequests <= 0 {
		return fmt.Errorf("max_requests must be positive, got %d", r.MaxRequests)
	}
	if r.WindowSeconds <= 0 {
		return fmt.Errorf("window_seconds must be positive, got %d", r.WindowSeconds)
	}
	if r.Algorithm == Burst && r.BurstAllowance <= 0 {
		r.BurstAllowance = r.MaxRequests / 10
		if r.BurstAllowance < 1 {
			r.BurstAllowance = 1
		}
	}
	return nil
}

// Decision is the outcome of one rate-limit check. A denied decision carries
// enough metadata for the HTTP layer to build 429/403 responses and
// X-RateLimit-* headers; an allowed decision carries informational metadata
// from the tightest passing rule.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit,omitempty"`
	Remaining  int           `json:"remaining,omitempty"`
	Window     time.Duration `json:"window,omitempty"`
	ResetTime  time.Time     `json:"reset_time,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Algorithm  string        `json:"algorithm,omitempty"`
	Reason     string        `json:"reason,omitempty"`

	// Penalized marks denials caused by an active abuse penalty rather
	// than any individual rule.
	Penalized bool `json:"penalized,omitempty"`
}
