// internal/pool/scheduler.go
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/autowait/internal/session"
)

// PanicError is a recovered panic from a test body.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Func is a unit of work that owns ec for its whole duration.
type Func func(ctx context.Context, ec *session.ExecutionContext) error

// Run checks out a context, calls fn and always checks the context back in,
// including when fn panics or ctx is cancelled. A panic is returned as a
// *PanicError.
func (p *Pool) Run(ctx context.Context, fn Func) (err error) {
	ec, err := p.Checkout(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Recovered panic while holding a context.",
				zap.String("context_id", ec.ID()), zap.Any("panic", r))
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
		if cerr := p.Checkin(ctx, ec); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(ctx, ec)
}

// Case is one independently scheduled unit.
type Case struct {
	Name string
	Fn   Func
}

// Result records how one case ended.
type Result struct {
	Name     string
	Err      error
	Duration time.Duration
}

// RunParallel runs every case on its own context with at most Size cases in
// flight. A failing case does not cancel its siblings; cancelling ctx stops
// cases that have not yet obtained a context. Results are returned in input
// order, and the error joins every case error.
func (p *Pool) RunParallel(ctx context.Context, cases []Case) ([]Result, error) {
	results := make([]Result, len(cases))

	var g errgroup.Group
	g.SetLimit(p.Size())
	for i, c := range cases {
		results[i].Name = c.Name
		g.Go(func() error {
			start := time.Now()
			err := p.Run(ctx, c.Fn)
			results[i].Duration = time.Since(start)
			if err != nil {
				results[i].Err = fmt.Errorf("case %q: %w", c.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return results, errors.Join(errs...)
}
