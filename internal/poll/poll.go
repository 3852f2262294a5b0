// internal/poll/poll.go
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autowait/internal/condition"
	"github.com/xkilldash9x/autowait/internal/driver"
	"github.com/xkilldash9x/autowait/internal/locator"
	"github.com/xkilldash9x/autowait/internal/observability"
	"github.com/xkilldash9x/autowait/internal/resolve"
)

// Status is the terminal state of a poll.
type Status int

const (
	StatusSatisfied Status = iota + 1
	StatusTimedOut
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSatisfied:
		return "satisfied"
	case StatusTimedOut:
		return "timed_out"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of one poll. Set is the resolution from the final
// evaluation and is only meaningful for StatusSatisfied.
type Outcome struct {
	Status   Status
	Set      resolve.ResolvedSet
	Verdict  condition.Verdict
	Err      error
	Attempts int
	Elapsed  time.Duration
}

// OK reports whether the condition was satisfied.
func (o Outcome) OK() bool { return o.Status == StatusSatisfied }

// Engine repeatedly resolves a locator and evaluates a condition until the
// condition holds, fails, the timeout elapses or the caller cancels.
type Engine struct {
	querier  driver.Querier
	resolver *resolve.Engine
	logger   *zap.Logger
}

// NewEngine creates a poll engine over querier.
func NewEngine(querier driver.Querier, resolver *resolve.Engine, logger *zap.Logger) (*Engine, error) {
	if querier == nil {
		return nil, fmt.Errorf("querier cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if resolver == nil {
		resolver = resolve.NewEngine(logger)
	}
	return &Engine{querier: querier, resolver: resolver, logger: logger.Named("poll")}, nil
}

// observation is what the last NotYet iteration saw.
type observation struct {
	count  int
	reason string
}

// Poll evaluates cond against loc on page until a terminal state. The
// condition is always evaluated at least once, even with a zero timeout.
// Every iteration resolves afresh; nothing is carried over except element
// boxes for stability checks.
func (e *Engine) Poll(ctx context.Context, page driver.PageRef, loc locator.Locator, cond condition.Condition, spec Spec) (out Outcome) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "poll",
		attribute.String("locator", loc.String()),
		attribute.String("condition", cond.String()),
		attribute.Int64("timeout_ms", spec.Timeout.Milliseconds()),
	)
	defer func() {
		out.Elapsed = time.Since(start)
		span.SetAttributes(
			attribute.String("status", out.Status.String()),
			attribute.Int("attempts", out.Attempts),
		)
		if out.Err != nil && out.Status != StatusSatisfied {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Status.String())
		}
		span.End()
		observability.RecordPoll(out.Status.String(), out.Attempts, out.Elapsed.Seconds())
	}()

	if err := spec.Validate(); err != nil {
		return Outcome{Status: StatusFailed, Err: fmt.Errorf("invalid poll spec: %w", err)}
	}
	spec = spec.normalized()
	strict := cond.RequiresStrict()
	deadline := start.Add(spec.Timeout)

	var (
		attempts    int
		driverFails int
		prevBoxes   map[driver.Handle]driver.Box
		last        observation
		timer       *time.Timer
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	cancelled := func() Outcome {
		return Outcome{
			Status:   StatusCancelled,
			Attempts: attempts,
			Err:      &CancelledError{Locator: loc.String(), LastCount: last.count, Cause: context.Cause(ctx)},
		}
	}

	for {
		if ctx.Err() != nil {
			return cancelled()
		}
		attempts++

		snap := resolve.NewSnapshot(page, e.querier, prevBoxes)
		set, err := e.resolver.Resolve(ctx, loc, snap, strict)

		var verdict condition.Verdict
		switch {
		case err == nil:
			driverFails = 0
			verdict = cond.Evaluate(set, snap)
			prevBoxes = set.Boxes()
		case ctx.Err() != nil:
			return cancelled()
		case errors.Is(err, resolve.ErrAmbiguousMatch):
			return Outcome{
				Status:   StatusFailed,
				Set:      set,
				Attempts: attempts,
				Verdict:  condition.Verdict{Status: condition.Failed, Reason: err.Error(), Unmet: cond.String(), Err: err},
				Err:      &ConditionError{Locator: loc.String(), Condition: cond.String(), Count: set.Len(), Cause: err},
			}
		case errors.Is(err, driver.ErrDriverUnavailable):
			driverFails++
			if driverFails > spec.MaxDriverFailures {
				e.logger.Warn("Driver unavailable too many times in a row.",
					zap.String("locator", loc.String()),
					zap.Int("consecutive", driverFails),
					zap.Error(err))
				return Outcome{
					Status:   StatusFailed,
					Attempts: attempts,
					Err:      &InfrastructureError{Locator: loc.String(), Consecutive: driverFails, Cause: err},
				}
			}
			verdict = condition.Verdict{Status: condition.NotYet, Reason: "driver unavailable: " + err.Error(), Unmet: cond.String()}
		default:
			return Outcome{
				Status:   StatusFailed,
				Attempts: attempts,
				Err:      &ConditionError{Locator: loc.String(), Condition: cond.String(), Cause: err},
			}
		}

		// A cancellation that raced with the evaluation wins over its result.
		if ctx.Err() != nil {
			return cancelled()
		}

		switch verdict.Status {
		case condition.Satisfied:
			return Outcome{Status: StatusSatisfied, Set: set, Verdict: verdict, Attempts: attempts}
		case condition.Failed:
			return Outcome{
				Status:   StatusFailed,
				Set:      set,
				Verdict:  verdict,
				Attempts: attempts,
				Err:      &ConditionError{Locator: loc.String(), Condition: verdict.Unmet, Count: set.Len(), Cause: verdict.Err},
			}
		}

		last = observation{count: set.Len(), reason: verdict.Reason}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Outcome{
				Status:   StatusTimedOut,
				Set:      set,
				Verdict:  verdict,
				Attempts: attempts,
				Err: &TimedOutError{
					Locator:    loc.String(),
					Condition:  cond.String(),
					Timeout:    spec.Timeout,
					Attempts:   attempts,
					LastCount:  last.count,
					LastReason: last.reason,
				},
			}
		}

		wait := min(spec.Interval.Interval(attempts-1), remaining)
		e.logger.Debug("Condition not yet satisfied, retrying.",
			zap.String("locator", loc.String()),
			zap.String("condition", verdict.Unmet),
			zap.String("reason", verdict.Reason),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait))

		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			timer.Reset(wait)
		}
		select {
		case <-ctx.Done():
			return cancelled()
		case <-timer.C:
		}
	}
}
