// internal/poll/errors.go
package poll

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels for errors.Is. Each typed error below matches exactly one.
var (
	ErrNotYet         = errors.New("condition not yet satisfied")
	ErrTimedOut       = errors.New("timed out")
	ErrCancelled      = errors.New("cancelled")
	ErrInfrastructure = errors.New("infrastructure failure")
)

// NotYetError is a transient verdict. It drives a retry and only becomes a
// final failure when it is the last observation of a timed-out poll.
type NotYetError struct {
	Reason string
}

func (e *NotYetError) Error() string        { return "not yet: " + e.Reason }
func (e *NotYetError) Is(target error) bool { return target == ErrNotYet }

// TimedOutError carries the last observation before the deadline.
type TimedOutError struct {
	Locator    string
	Condition  string
	Timeout    time.Duration
	Attempts   int
	LastCount  int
	LastReason string
}

func (e *TimedOutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s to be %s (%d attempts, last resolved %d element(s): %s)",
		e.Timeout, e.Locator, e.Condition, e.Attempts, e.LastCount, e.LastReason)
}

func (e *TimedOutError) Is(target error) bool { return target == ErrTimedOut }

// Unwrap exposes the final transient verdict.
func (e *TimedOutError) Unwrap() error { return &NotYetError{Reason: e.LastReason} }

// CancelledError is returned when the caller's context ends first. It wraps
// the context's error.
type CancelledError struct {
	Locator   string
	LastCount int
	Cause     error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("cancelled while waiting for %s (last resolved %d element(s)): %v", e.Locator, e.LastCount, e.Cause)
}

func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }
func (e *CancelledError) Unwrap() error        { return e.Cause }

// InfrastructureError is the escalation of repeated driver unavailability. It
// is distinct from TimedOutError so callers can tell a slow application from a
// broken browser.
type InfrastructureError struct {
	Locator     string
	Consecutive int
	Cause       error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("driver unavailable %d consecutive times while resolving %s: %v", e.Consecutive, e.Locator, e.Cause)
}

func (e *InfrastructureError) Is(target error) bool { return target == ErrInfrastructure }
func (e *InfrastructureError) Unwrap() error        { return e.Cause }

// ConditionError is a terminal failure reported by resolution or by a
// condition.
type ConditionError struct {
	Locator   string
	Condition string
	Count     int
	Cause     error
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("%s failed for %s (%d element(s)): %v", e.Condition, e.Locator, e.Count, e.Cause)
}

func (e *ConditionError) Unwrap() error { return e.Cause }
