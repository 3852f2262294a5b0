// internal/action/executor.go
package action

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autowait/internal/condition"
	"github.com/xkilldash9x/autowait/internal/driver"
	"github.com/xkilldash9x/autowait/internal/locator"
	"github.com/xkilldash9x/autowait/internal/observability"
	"github.com/xkilldash9x/autowait/internal/poll"
	"github.com/xkilldash9x/autowait/internal/session"
)

// Error is a failure of the interaction itself, after the element passed its
// actionability checks. It is never retried.
type Error struct {
	Action  driver.Action
	Locator string
	Cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s on %s failed: %v", e.Action, e.Locator, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Result is the outcome of an assertion.
type Result struct {
	Pass    bool
	Outcome poll.Outcome
	Message string
}

// Executor waits for elements to become actionable and then acts on them.
type Executor struct {
	poller *poll.Engine
	actor  driver.Actor
	logger *zap.Logger
}

// NewExecutor creates an executor.
func NewExecutor(poller *poll.Engine, actor driver.Actor, logger *zap.Logger) (*Executor, error) {
	if poller == nil {
		return nil, fmt.Errorf("poll engine cannot be nil")
	}
	if actor == nil {
		return nil, fmt.Errorf("actor cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{poller: poller, actor: actor, logger: logger.Named("action")}, nil
}

// Perform polls actionability strictly and, once it holds, performs act
// exactly once against the element resolved by that final evaluation. A zero
// actionability selects DefaultActionability. The action is not retried and
// the locator is not resolved again before acting.
func (x *Executor) Perform(ctx context.Context, page *session.Page, loc locator.Locator, act driver.Action, actionability condition.Condition, spec poll.Spec) poll.Outcome {
	if actionability.IsZero() {
		actionability = DefaultActionability(act.Kind)
	}
	// Actions always target exactly one attached element, whatever else the
	// caller asks for.
	actionability = condition.All(actionability, condition.Attached())

	leave, ref, err := enter(page)
	if err != nil {
		observability.RecordAction(string(act.Kind), poll.StatusFailed.String())
		return poll.Outcome{Status: poll.StatusFailed, Err: err}
	}
	defer leave()

	out := x.poller.Poll(ctx, ref, loc, actionability, spec)
	if !out.OK() {
		observability.RecordAction(string(act.Kind), out.Status.String())
		x.logger.Debug("Element never became actionable.",
			zap.String("action", act.String()),
			zap.String("locator", loc.String()),
			zap.String("status", out.Status.String()),
			zap.String("unmet", out.Verdict.Unmet))
		return out
	}

	if out.Set.Len() != 1 {
		observability.RecordAction(string(act.Kind), poll.StatusFailed.String())
		out.Status = poll.StatusFailed
		out.Err = &Error{Action: act, Locator: loc.String(), Cause: fmt.Errorf("expected one element to act on, found %d", out.Set.Len())}
		return out
	}
	el := out.Set.At(0)
	if alreadyInState(act, el) {
		observability.RecordAction(string(act.Kind), "noop")
		return out
	}

	if err := x.actor.Act(ctx, ref, el.Handle, act); err != nil {
		observability.RecordAction(string(act.Kind), "error")
		out.Status = poll.StatusFailed
		out.Err = &Error{Action: act, Locator: loc.String(), Cause: err}
		return out
	}
	observability.RecordAction(string(act.Kind), "ok")
	x.logger.Debug("Action performed.",
		zap.String("action", act.String()),
		zap.String("locator", loc.String()),
		zap.Int("attempts", out.Attempts))
	return out
}

// alreadyInState makes check and uncheck idempotent.
func alreadyInState(act driver.Action, el driver.ElementInfo) bool {
	switch act.Kind {
	case driver.ActionCheck:
		return el.Checked
	case driver.ActionUncheck:
		return !el.Checked
	default:
		return false
	}
}

// Expect polls cond and reports whether it was satisfied in time.
func (x *Executor) Expect(ctx context.Context, page *session.Page, loc locator.Locator, cond condition.Condition, spec poll.Spec) Result {
	leave, ref, err := enter(page)
	if err != nil {
		return Result{Outcome: poll.Outcome{Status: poll.StatusFailed, Err: err}, Message: err.Error()}
	}
	defer leave()

	out := x.poller.Poll(ctx, ref, loc, cond, spec)
	if out.OK() {
		return Result{Pass: true, Outcome: out}
	}
	return Result{Outcome: out, Message: out.Err.Error()}
}

func enter(page *session.Page) (func(), driver.PageRef, error) {
	ref, err := page.Ref()
	if err != nil {
		return nil, "", err
	}
	leave, err := page.Context().Enter()
	if err != nil {
		return nil, "", err
	}
	return leave, ref, nil
}
