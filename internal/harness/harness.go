// internal/harness/harness.go
package harness

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autowait/internal/action"
	"github.com/xkilldash9x/autowait/internal/condition"
	"github.com/xkilldash9x/autowait/internal/config"
	"github.com/xkilldash9x/autowait/internal/driver"
	"github.com/xkilldash9x/autowait/internal/locator"
	"github.com/xkilldash9x/autowait/internal/poll"
	"github.com/xkilldash9x/autowait/internal/pool"
	"github.com/xkilldash9x/autowait/internal/resolve"
	"github.com/xkilldash9x/autowait/internal/session"
)

const defaultCloseTimeout = 10 * time.Second

// PageFunc is a test body. It owns ec and page until it returns.
type PageFunc func(ctx context.Context, ec *session.ExecutionContext, page *session.Page) error

// Case is one named test body for RunParallel.
type Case struct {
	Name string
	Fn   PageFunc
}

// Harness wires a driver into the pool, the poll engine and the action
// executor, with defaults taken from configuration.
type Harness struct {
	cfg    config.Interface
	drv    driver.Driver
	logger *zap.Logger

	pool     *pool.Pool
	poller   *poll.Engine
	executor *action.Executor
	spec     poll.Spec
}

// New builds a Harness around drv.
func New(cfg config.Interface, drv driver.Driver, logger *zap.Logger) (*Harness, error) {
	if cfg == nil || drv == nil {
		return nil, fmt.Errorf("cannot initialize harness with nil dependencies")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	spec := SpecFromConfig(cfg.Poll())
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid poll configuration: %w", err)
	}

	pc := cfg.Pool()
	p, err := pool.New(drv, pool.Options{
		Size:          pc.Size,
		MaxIdle:       pc.MaxIdle,
		ReuseContexts: pc.ReuseContexts,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create context pool: %w", err)
	}

	poller, err := poll.NewEngine(drv, resolve.NewEngine(logger), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll engine: %w", err)
	}
	executor, err := action.NewExecutor(poller, drv, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create action executor: %w", err)
	}

	return &Harness{
		cfg:      cfg,
		drv:      drv,
		logger:   logger.Named("harness"),
		pool:     p,
		poller:   poller,
		executor: executor,
		spec:     spec,
	}, nil
}

// SpecFromConfig converts the configured poll settings into a Spec.
func SpecFromConfig(pc config.PollConfig) poll.Spec {
	return poll.Spec{
		Timeout:           pc.Timeout,
		Interval:          poll.Exponential(pc.BaseInterval, pc.Factor, pc.MaxInterval),
		MaxDriverFailures: pc.MaxDriverFailures,
	}
}

// Spec returns the default poll spec.
func (h *Harness) Spec() poll.Spec { return h.spec }

// Pool exposes the underlying context pool.
func (h *Harness) Pool() *pool.Pool { return h.pool }

// ByTestID builds a test-id locator using the configured attribute.
func (h *Harness) ByTestID(id string) locator.Locator {
	return locator.ByTestIDAttribute(h.cfg.Browser().TestIDAttribute, id)
}

// WithContext checks out a context, opens a page in it and runs fn. The
// context is returned to the pool on every exit path, including panics and
// cancellation.
func (h *Harness) WithContext(ctx context.Context, fn PageFunc) error {
	return h.pool.Run(ctx, func(ctx context.Context, ec *session.ExecutionContext) error {
		page, err := ec.NewPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to open page: %w", err)
		}
		return fn(ctx, ec, page)
	})
}

// RunParallel runs every case in its own context, bounded by the pool size.
func (h *Harness) RunParallel(ctx context.Context, cases []Case) ([]pool.Result, error) {
	wrapped := make([]pool.Case, len(cases))
	for i, c := range cases {
		wrapped[i] = pool.Case{
			Name: c.Name,
			Fn: func(ctx context.Context, ec *session.ExecutionContext) error {
				page, err := ec.NewPage(ctx)
				if err != nil {
					return fmt.Errorf("failed to open page: %w", err)
				}
				return c.Fn(ctx, ec, page)
			},
		}
	}
	results, err := h.pool.RunParallel(ctx, wrapped)
	h.logger.Debug("Parallel run finished.", zap.Int("cases", len(cases)), zap.Error(err))
	return results, err
}

// Perform waits for the default actionability of act and performs it.
func (h *Harness) Perform(ctx context.Context, page *session.Page, loc locator.Locator, act driver.Action) poll.Outcome {
	return h.executor.Perform(ctx, page, loc, act, condition.Condition{}, h.spec)
}

// PerformWith is Perform with explicit actionability and spec.
func (h *Harness) PerformWith(ctx context.Context, page *session.Page, loc locator.Locator, act driver.Action, actionability condition.Condition, spec poll.Spec) poll.Outcome {
	return h.executor.Perform(ctx, page, loc, act, actionability, spec)
}

// Expect polls cond with the default spec.
func (h *Harness) Expect(ctx context.Context, page *session.Page, loc locator.Locator, cond condition.Condition) action.Result {
	return h.executor.Expect(ctx, page, loc, cond, h.spec)
}

// ExpectWithin polls cond for at most timeout.
func (h *Harness) ExpectWithin(ctx context.Context, page *session.Page, loc locator.Locator, cond condition.Condition, timeout time.Duration) action.Result {
	return h.executor.Expect(ctx, page, loc, cond, h.spec.WithTimeout(timeout))
}

// Close shuts the pool down. Teardown runs even when ctx is already
// cancelled, bounded by the configured close timeout.
func (h *Harness) Close(ctx context.Context) error {
	timeout := h.cfg.Pool().CloseTimeout
	if timeout <= 0 {
		timeout = defaultCloseTimeout
	}
	closeCtx, cancel := driver.Detach(ctx, timeout)
	defer cancel()
	if err := h.pool.Close(closeCtx); err != nil {
		h.logger.Warn("Error while closing the context pool.", zap.Error(err))
		return err
	}
	h.logger.Debug("Harness closed.", zap.Any("stats", h.pool.Stats()))
	return nil
}
