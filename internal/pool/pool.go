// internal/pool/pool.go
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/autowait/internal/driver"
	"github.com/xkilldash9x/autowait/internal/observability"
	"github.com/xkilldash9x/autowait/internal/session"
)

// ErrPoolClosed is returned by Checkout after Close.
var ErrPoolClosed = errors.New("context pool is closed")

// Options sizes a Pool.
type Options struct {
	// Size is the number of contexts that may be checked out at once.
	Size int
	// MaxIdle caps how many reset contexts are kept for reuse.
	MaxIdle int
	// ReuseContexts resets returned contexts instead of closing them.
	ReuseContexts bool
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	InUse   int
	Idle    int
	Created int
	Reused  int
	Closed  int
}

// Pool hands out isolated execution contexts, at most Size at a time.
// Checkout blocks while every slot is held.
type Pool struct {
	prov   driver.Provisioner
	opts   Options
	logger *zap.Logger
	slots  *semaphore.Weighted

	mu     sync.Mutex
	idle   []*session.ExecutionContext
	out    map[*session.ExecutionContext]struct{}
	closed bool
	stats  Stats
}

// New creates a pool over prov.
func New(prov driver.Provisioner, opts Options, logger *zap.Logger) (*Pool, error) {
	if prov == nil {
		return nil, fmt.Errorf("provisioner cannot be nil")
	}
	if opts.Size <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", opts.Size)
	}
	if opts.MaxIdle < 0 {
		return nil, fmt.Errorf("max idle must not be negative, got %d", opts.MaxIdle)
	}
	if opts.MaxIdle > opts.Size {
		opts.MaxIdle = opts.Size
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		prov:   prov,
		opts:   opts,
		logger: logger.Named("pool"),
		slots:  semaphore.NewWeighted(int64(opts.Size)),
		out:    make(map[*session.ExecutionContext]struct{}),
	}, nil
}

// Size returns the slot count.
func (p *Pool) Size() int { return p.opts.Size }

// Checkout waits for a free slot and returns an Active context bound to the
// caller. Idle contexts are reused before new ones are provisioned. The wait
// honors ctx cancellation.
func (p *Pool) Checkout(ctx context.Context) (*session.ExecutionContext, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a free context slot: %w", err)
	}
	wait := time.Since(start)

	ec, reused, err := p.take(ctx)
	if err != nil {
		p.slots.Release(1)
		return nil, err
	}
	if err := ec.Activate(); err != nil {
		p.slots.Release(1)
		_ = ec.Close(ctx)
		return nil, fmt.Errorf("failed to activate context %s: %w", ec.ID(), err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.slots.Release(1)
		_ = ec.Close(ctx)
		return nil, ErrPoolClosed
	}
	p.out[ec] = struct{}{}
	p.stats.InUse = len(p.out)
	if reused {
		p.stats.Reused++
	}
	p.mu.Unlock()

	observability.RecordCheckout(wait.Seconds())
	p.logger.Debug("Context checked out.",
		zap.String("context_id", ec.ID()),
		zap.Bool("reused", reused),
		zap.Duration("wait", wait))
	return ec, nil
}

// take pops an idle context or provisions a new one. The caller holds a slot.
func (p *Pool) take(ctx context.Context) (*session.ExecutionContext, bool, error) {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		ec := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.stats.Idle = len(p.idle)
		observability.SetIdleContexts(len(p.idle))
		p.mu.Unlock()
		return ec, true, nil
	}
	p.mu.Unlock()

	ec, err := session.New(ctx, p.prov, p.logger)
	if err != nil {
		return nil, false, err
	}
	p.mu.Lock()
	p.stats.Created++
	p.mu.Unlock()
	observability.RecordContextCreated()
	return ec, false, nil
}

// Checkin returns ec to the pool. It is idempotent: only the first call for
// a checkout releases the slot. A context that cannot be reset, or that
// exceeds MaxIdle, is closed instead of reused. Teardown runs even if ctx is
// already cancelled.
func (p *Pool) Checkin(ctx context.Context, ec *session.ExecutionContext) error {
	if ec == nil {
		return nil
	}
	p.mu.Lock()
	if _, ok := p.out[ec]; !ok {
		p.mu.Unlock()
		return nil
	}
	delete(p.out, ec)
	p.stats.InUse = len(p.out)
	keep := p.opts.ReuseContexts && !p.closed && len(p.idle) < p.opts.MaxIdle
	p.mu.Unlock()

	defer func() {
		p.slots.Release(1)
		observability.RecordCheckin()
	}()

	teardownCtx, cancel := driver.Detach(ctx, 10*time.Second)
	defer cancel()

	if keep {
		err := ec.Reset(teardownCtx)
		if err == nil {
			p.mu.Lock()
			if !p.closed && len(p.idle) < p.opts.MaxIdle {
				p.idle = append(p.idle, ec)
				p.stats.Idle = len(p.idle)
				observability.SetIdleContexts(len(p.idle))
				p.mu.Unlock()
				p.logger.Debug("Context returned for reuse.", zap.String("context_id", ec.ID()))
				return nil
			}
			p.mu.Unlock()
		} else {
			p.logger.Warn("Context reset failed; closing it instead.",
				zap.String("context_id", ec.ID()), zap.Error(err))
		}
	}

	p.mu.Lock()
	p.stats.Closed++
	p.mu.Unlock()
	if err := ec.Close(teardownCtx); err != nil {
		return fmt.Errorf("failed to close context %s: %w", ec.ID(), err)
	}
	return nil
}

// Stats returns counters for the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close refuses further checkouts and closes idle contexts. Contexts still
// checked out are closed when they are checked in.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.stats.Idle = 0
	p.stats.Closed += len(idle)
	inUse := len(p.out)
	p.mu.Unlock()
	observability.SetIdleContexts(0)

	p.logger.Info("Closing context pool.", zap.Int("idle", len(idle)), zap.Int("in_use", inUse))
	var errs []error
	for _, ec := range idle {
		if err := ec.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
