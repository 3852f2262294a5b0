// internal/session/page.go
package session

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/xkilldash9x/autowait/internal/driver"
)

// Page is a tab inside an ExecutionContext. The back-reference to the owner
// is for lookup only; the owner controls the page's lifetime.
type Page struct {
	id     string
	raw    driver.PageRef
	owner  *ExecutionContext
	closed atomic.Bool
}

// ID returns the page identifier.
func (p *Page) ID() string { return p.id }

// Context returns the owning execution context.
func (p *Page) Context() *ExecutionContext { return p.owner }

// Ref returns the driver's page identity, or ErrContextClosed if the page or
// its owner has been closed.
func (p *Page) Ref() (driver.PageRef, error) {
	if p.closed.Load() {
		return "", ErrContextClosed
	}
	if st := p.owner.State(); st == StateClosing || st == StateClosed {
		return "", ErrContextClosed
	}
	return p.raw, nil
}

// Navigate loads url when the driver supports navigation. It holds the
// owner busy like any other operation, so it fails with ErrConcurrentUse
// while an action or wait runs in the same context.
func (p *Page) Navigate(ctx context.Context, url string) error {
	ref, err := p.Ref()
	if err != nil {
		return err
	}
	leave, err := p.owner.Enter()
	if err != nil {
		return err
	}
	defer leave()
	nav, ok := p.owner.prov.(driver.Navigator)
	if !ok {
		return fmt.Errorf("driver %T cannot navigate", p.owner.prov)
	}
	if err := nav.Navigate(ctx, ref, url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// Close closes this page only.
func (p *Page) Close(ctx context.Context) error {
	if err := p.close(ctx); err != nil {
		return err
	}
	p.owner.forgetPage(p)
	return nil
}

func (p *Page) close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.owner.prov.ClosePage(ctx, p.raw); err != nil {
		return fmt.Errorf("failed to close page %s: %w", p.id, err)
	}
	return nil
}
