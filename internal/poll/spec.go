// internal/poll/spec.go
package poll

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Backoff describes the sleep between evaluations. The n-th sleep (from zero)
// is Base*Factor^n, capped at Max. A Factor of 1 gives a fixed interval.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

// Fixed returns a constant interval.
func Fixed(d time.Duration) Backoff {
	return Backoff{Base: d, Factor: 1, Max: d}
}

// Exponential returns a capped multiplicative backoff.
func Exponential(base time.Duration, factor float64, max time.Duration) Backoff {
	return Backoff{Base: base, Factor: factor, Max: max}
}

// DefaultBackoff starts fast for conditions that settle quickly and levels
// off to keep the query channel quiet for slow ones.
var DefaultBackoff = Exponential(20*time.Millisecond, 2, 500*time.Millisecond)

// Interval returns the sleep after the given zero-based attempt.
func (b Backoff) Interval(attempt int) time.Duration {
	if attempt <= 0 || b.Factor <= 1 {
		return min(b.Base, b.Max)
	}
	d := float64(b.Base) * math.Pow(b.Factor, float64(attempt))
	if d >= float64(b.Max) || math.IsInf(d, 0) || math.IsNaN(d) {
		return b.Max
	}
	return time.Duration(d)
}

// Validate reports configuration errors.
func (b Backoff) Validate() error {
	if b.Base <= 0 {
		return errors.New("backoff base must be positive")
	}
	if b.Factor < 1 {
		return fmt.Errorf("backoff factor must be >= 1, got %v", b.Factor)
	}
	if b.Max < b.Base {
		return fmt.Errorf("backoff max (%s) must be >= base (%s)", b.Max, b.Base)
	}
	return nil
}

// DefaultMaxDriverFailures bounds consecutive transient driver failures
// before a poll escalates to an infrastructure error.
const DefaultMaxDriverFailures = 5

// Spec configures one poll.
type Spec struct {
	// Timeout bounds the whole poll. Zero means a single immediate check.
	Timeout time.Duration
	// Interval is the retry backoff.
	Interval Backoff
	// MaxDriverFailures is how many consecutive ErrDriverUnavailable results
	// are treated as NotYet. Zero selects DefaultMaxDriverFailures.
	MaxDriverFailures int
}

// DefaultSpec returns a 5s poll with the default backoff.
func DefaultSpec() Spec {
	return Spec{Timeout: 5 * time.Second, Interval: DefaultBackoff, MaxDriverFailures: DefaultMaxDriverFailures}
}

// WithTimeout returns a copy of s with a different timeout.
func (s Spec) WithTimeout(d time.Duration) Spec {
	s.Timeout = d
	return s
}

// Validate reports configuration errors.
func (s Spec) Validate() error {
	if s.Timeout < 0 {
		return fmt.Errorf("poll timeout must not be negative, got %s", s.Timeout)
	}
	if s.MaxDriverFailures < 0 {
		return fmt.Errorf("max driver failures must not be negative, got %d", s.MaxDriverFailures)
	}
	if err := s.Interval.Validate(); err != nil {
		return fmt.Errorf("poll interval: %w", err)
	}
	return nil
}

// normalized clamps the backoff so no single sleep exceeds the timeout and
// fills defaults.
func (s Spec) normalized() Spec {
	if s.MaxDriverFailures == 0 {
		s.MaxDriverFailures = DefaultMaxDriverFailures
	}
	if s.Timeout > 0 {
		if s.Interval.Max > s.Timeout {
			s.Interval.Max = s.Timeout
		}
		if s.Interval.Base > s.Interval.Max {
			s.Interval.Base = s.Interval.Max
		}
	}
	return s
}
