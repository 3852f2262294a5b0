// internal/session/context.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autowait/internal/driver"
)

var (
	// ErrContextClosed is returned by operations on a closing or closed context
	// or on any of its pages.
	ErrContextClosed = errors.New("execution context is closed")
	// ErrConcurrentUse is returned when a second goroutine enters a context
	// that is already in use.
	ErrConcurrentUse = errors.New("execution context is in use by another goroutine")
)

// teardownTimeout bounds page and context teardown when the caller's context
// is already done.
const teardownTimeout = 10 * time.Second

// State is the lifecycle position of an ExecutionContext.
type State int32

const (
	// StateCreated is a fresh or freshly reset context, not held by anyone.
	StateCreated State = iota
	// StateActive is a context checked out to a single holder.
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ExecutionContext is one isolated browser context: its own cookies, storage
// and pages. It is owned by exactly one holder at a time.
type ExecutionContext struct {
	id      string
	raw     driver.ContextRef
	prov    driver.Provisioner
	logger  *zap.Logger
	created time.Time

	mu    sync.Mutex
	state State
	pages []*Page
	uses  int

	// busy guards against two goroutines operating on the context at once.
	busy atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// New provisions a raw context through prov and wraps it.
func New(ctx context.Context, prov driver.Provisioner, logger *zap.Logger) (*ExecutionContext, error) {
	if prov == nil {
		return nil, fmt.Errorf("provisioner cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	raw, err := prov.NewContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	id := uuid.New().String()
	return &ExecutionContext{
		id:      id,
		raw:     raw,
		prov:    prov,
		logger:  logger.Named("session").With(zap.String("context_id", id)),
		created: time.Now(),
		state:   StateCreated,
	}, nil
}

// ID returns the stable identifier assigned at creation.
func (c *ExecutionContext) ID() string { return c.id }

// Raw returns the driver's identity for this context.
func (c *ExecutionContext) Raw() driver.ContextRef { return c.raw }

// CreatedAt returns when the context was provisioned.
func (c *ExecutionContext) CreatedAt() time.Time { return c.created }

// State returns the current lifecycle state.
func (c *ExecutionContext) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Uses returns how many times the context has been activated.
func (c *ExecutionContext) Uses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uses
}

// Activate moves a Created context to Active.
func (c *ExecutionContext) Activate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateCreated:
		c.state = StateActive
		c.uses++
		return nil
	case StateActive:
		return fmt.Errorf("context %s is already active", c.id)
	default:
		return ErrContextClosed
	}
}

// Enter marks the context busy for the duration of one operation. The
// returned function must be called to leave. A second concurrent Enter fails
// with ErrConcurrentUse rather than blocking.
func (c *ExecutionContext) Enter() (leave func(), err error) {
	if !c.busy.CompareAndSwap(false, true) {
		return nil, ErrConcurrentUse
	}
	if st := c.State(); st == StateClosing || st == StateClosed {
		c.busy.Store(false)
		return nil, ErrContextClosed
	}
	var once sync.Once
	return func() { once.Do(func() { c.busy.Store(false) }) }, nil
}

// NewPage opens a page inside the context. Like Navigate it fails with
// ErrConcurrentUse while another operation holds the context.
func (c *ExecutionContext) NewPage(ctx context.Context) (*Page, error) {
	leave, err := c.Enter()
	if err != nil {
		return nil, err
	}
	defer leave()

	c.mu.Lock()
	if c.state == StateClosing || c.state == StateClosed {
		c.mu.Unlock()
		return nil, ErrContextClosed
	}
	c.mu.Unlock()

	raw, err := c.prov.NewPage(ctx, c.raw)
	if err != nil {
		return nil, fmt.Errorf("failed to open page in context %s: %w", c.id, err)
	}

	p := &Page{id: uuid.New().String(), raw: raw, owner: c}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosing || c.state == StateClosed {
		// Closed while the page was being opened; do not leak it.
		cleanupCtx, cancel := driver.Detach(ctx, teardownTimeout)
		defer cancel()
		_ = c.prov.ClosePage(cleanupCtx, raw)
		return nil, ErrContextClosed
	}
	c.pages = append(c.pages, p)
	return p, nil
}

// Pages returns the open pages in creation order.
func (c *ExecutionContext) Pages() []*Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Page, len(c.pages))
	copy(out, c.pages)
	return out
}

// forgetPage drops p from the page list.
func (c *ExecutionContext) forgetPage(p *Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, q := range c.pages {
		if q == p {
			c.pages = append(c.pages[:i], c.pages[i+1:]...)
			return
		}
	}
}

func (c *ExecutionContext) takePages() []*Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	pages := c.pages
	c.pages = nil
	return pages
}

// Reset closes every page, clears the context's storage through the driver
// and returns it to StateCreated so the pool can hand it out again.
func (c *ExecutionContext) Reset(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosing || c.state == StateClosed {
		c.mu.Unlock()
		return ErrContextClosed
	}
	c.mu.Unlock()

	var errs []error
	for _, p := range c.takePages() {
		if err := p.close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.prov.ResetContext(ctx, c.raw); err != nil {
		errs = append(errs, fmt.Errorf("failed to reset context %s: %w", c.id, err))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateActive {
		c.state = StateCreated
	}
	return nil
}

// Close tears down every page, then the raw context. It is idempotent and
// runs teardown even when ctx is already cancelled.
func (c *ExecutionContext) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosing
		c.mu.Unlock()

		teardownCtx, cancel := driver.Detach(ctx, teardownTimeout)
		defer cancel()

		var errs []error
		for _, p := range c.takePages() {
			if err := p.close(teardownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := c.prov.CloseContext(teardownCtx, c.raw); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context %s: %w", c.id, err))
		}
		c.closeErr = errors.Join(errs...)

		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()

		if c.closeErr != nil {
			c.logger.Warn("Execution context closed with errors.", zap.Error(c.closeErr))
		} else {
			c.logger.Debug("Execution context closed.")
		}
	})
	return c.closeErr
}
