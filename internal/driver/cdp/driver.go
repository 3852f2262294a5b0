// internal/driver/cdp/driver.go
package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cdpproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/autowait/internal/config"
	"github.com/xkilldash9x/autowait/internal/driver"
	"github.com/xkilldash9x/autowait/internal/resolve"
)

type tab struct {
	owner  driver.ContextRef
	id     target.ID
	ctx    context.Context
	cancel context.CancelFunc
}

// Driver drives a Chromium browser over the DevTools protocol. Every
// execution context is a separate browser context, so cookies and storage
// are never shared between them.
type Driver struct {
	cfg     config.BrowserConfig
	logger  *zap.Logger
	limiter *rate.Limiter

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	// createMu serializes target creation, which Chromium does not handle
	// well concurrently.
	createMu sync.Mutex

	mu       sync.Mutex
	contexts map[driver.ContextRef]cdpproto.BrowserContextID
	tabs     map[driver.PageRef]*tab
}

var (
	_ driver.Driver    = (*Driver)(nil)
	_ driver.Navigator = (*Driver)(nil)
)

// New launches a browser. The browser lives until Close is called or ctx is
// cancelled.
func New(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("cdp_driver")

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, AllocatorOptions(cfg)...)
	var ctxOpts []chromedp.ContextOption
	if cfg.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(logger.Sugar().Debugf))
	}
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, ctxOpts...)

	// The first Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	limit := rate.Inf
	if cfg.QueryRate > 0 {
		limit = rate.Limit(cfg.QueryRate)
	}
	burst := cfg.QueryBurst
	if burst <= 0 {
		burst = 1
	}

	logger.Info("Browser started.", zap.Bool("headless", cfg.Headless))
	return &Driver{
		cfg:           cfg,
		logger:        logger,
		limiter:       rate.NewLimiter(limit, burst),
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		contexts:      make(map[driver.ContextRef]cdpproto.BrowserContextID),
		tabs:          make(map[driver.PageRef]*tab),
	}, nil
}

// browserExec returns a context whose executor is the browser itself, for
// target-domain commands, bounded by ctx.
func (d *Driver) browserExec(ctx context.Context) (context.Context, context.CancelFunc) {
	c := chromedp.FromContext(d.browserCtx)
	combined, cancel := driver.CombineContext(d.browserCtx, ctx)
	return cdpproto.WithExecutor(combined, c.Browser), cancel
}

func (d *Driver) createBrowserContext(ctx context.Context) (cdpproto.BrowserContextID, error) {
	d.createMu.Lock()
	defer d.createMu.Unlock()
	execCtx, cancel := d.browserExec(ctx)
	defer cancel()
	id, err := target.CreateBrowserContext().WithDisposeOnDetach(true).Do(execCtx)
	if err != nil {
		return "", driver.Unavailable("create browser context", err)
	}
	return id, nil
}

func (d *Driver) disposeBrowserContext(ctx context.Context, id cdpproto.BrowserContextID) error {
	if d.browserCtx.Err() != nil {
		return nil
	}
	execCtx, cancel := d.browserExec(ctx)
	defer cancel()
	if err := target.DisposeBrowserContext(id).Do(execCtx); err != nil {
		return fmt.Errorf("failed to dispose browser context %s: %w", id, err)
	}
	return nil
}

// NewContext implements driver.Provisioner.
func (d *Driver) NewContext(ctx context.Context) (driver.ContextRef, error) {
	id, err := d.createBrowserContext(ctx)
	if err != nil {
		return "", err
	}
	ref := driver.ContextRef(uuid.New().String())
	d.mu.Lock()
	d.contexts[ref] = id
	d.mu.Unlock()
	d.logger.Debug("Browser context created.", zap.String("context", string(ref)), zap.String("browser_context_id", string(id)))
	return ref, nil
}

// ResetContext replaces the browser context behind raw with a fresh one,
// discarding its cookies, storage and pages.
func (d *Driver) ResetContext(ctx context.Context, raw driver.ContextRef) error {
	old, err := d.browserContextID(raw)
	if err != nil {
		return err
	}
	d.closeTabs(ctx, raw)
	if err := d.disposeBrowserContext(ctx, old); err != nil {
		return err
	}
	id, err := d.createBrowserContext(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.contexts[raw] = id
	d.mu.Unlock()
	return nil
}

// CloseContext implements driver.Provisioner. Unknown contexts are ignored.
func (d *Driver) CloseContext(ctx context.Context, raw driver.ContextRef) error {
	d.mu.Lock()
	id, ok := d.contexts[raw]
	delete(d.contexts, raw)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	d.closeTabs(ctx, raw)
	return d.disposeBrowserContext(ctx, id)
}

func (d *Driver) browserContextID(raw driver.ContextRef) (cdpproto.BrowserContextID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.contexts[raw]
	if !ok {
		return "", fmt.Errorf("unknown context %q", raw)
	}
	return id, nil
}

func (d *Driver) closeTabs(ctx context.Context, raw driver.ContextRef) {
	d.mu.Lock()
	var owned []driver.PageRef
	for ref, t := range d.tabs {
		if t.owner == raw {
			owned = append(owned, ref)
		}
	}
	d.mu.Unlock()
	for _, ref := range owned {
		if err := d.ClosePage(ctx, ref); err != nil {
			d.logger.Debug("Failed to close page during context teardown.", zap.String("page", string(ref)), zap.Error(err))
		}
	}
}

// NewPage opens a blank tab in raw's browser context.
func (d *Driver) NewPage(ctx context.Context, raw driver.ContextRef) (driver.PageRef, error) {
	bcID, err := d.browserContextID(raw)
	if err != nil {
		return "", err
	}

	d.createMu.Lock()
	execCtx, cancelExec := d.browserExec(ctx)
	tid, err := target.CreateTarget("about:blank").WithBrowserContextID(bcID).Do(execCtx)
	cancelExec()
	d.createMu.Unlock()
	if err != nil {
		return "", driver.Unavailable("create target", err)
	}

	tabCtx, cancel := chromedp.NewContext(d.browserCtx, chromedp.WithTargetID(tid))
	setup := chromedp.Tasks{}
	if w, h := d.cfg.Viewport.Width, d.cfg.Viewport.Height; w > 0 && h > 0 {
		setup = append(setup, emulation.SetDeviceMetricsOverride(int64(w), int64(h), 1, false))
	}
	runCtx, cancelRun := driver.CombineContext(tabCtx, ctx)
	err = chromedp.Run(runCtx, setup)
	cancelRun()
	if err != nil {
		cancel()
		return "", driver.Unavailable("attach target", err)
	}

	ref := driver.PageRef(tid)
	d.mu.Lock()
	d.tabs[ref] = &tab{owner: raw, id: tid, ctx: tabCtx, cancel: cancel}
	d.mu.Unlock()
	return ref, nil
}

// ClosePage implements driver.Provisioner. Unknown pages are ignored.
func (d *Driver) ClosePage(ctx context.Context, ref driver.PageRef) error {
	d.mu.Lock()
	t, ok := d.tabs[ref]
	delete(d.tabs, ref)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	defer t.cancel()
	if d.browserCtx.Err() != nil {
		return nil
	}
	execCtx, cancel := d.browserExec(ctx)
	defer cancel()
	if err := target.CloseTarget(t.id).Do(execCtx); err != nil {
		return fmt.Errorf("failed to close target %s: %w", t.id, err)
	}
	return nil
}

func (d *Driver) tab(ref driver.PageRef) (*tab, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tabs[ref]
	if !ok {
		return nil, fmt.Errorf("unknown page %q", ref)
	}
	return t, nil
}

// run executes actions on the page's target under the caller's deadline.
func (d *Driver) run(ctx context.Context, ref driver.PageRef, actions ...chromedp.Action) error {
	t, err := d.tab(ref)
	if err != nil {
		return err
	}
	runCtx, cancel := driver.CombineContext(t.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// evaluate runs a script on the page and decodes its result envelope.
func (d *Driver) evaluate(ctx context.Context, ref driver.PageRef, op, script string) (scriptResult, error) {
	if _, err := d.tab(ref); err != nil {
		return scriptResult{}, err
	}
	var raw []byte
	err := d.run(ctx, ref, chromedp.Evaluate(script, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(false)
	}))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return scriptResult{}, ctxErr
		}
		return scriptResult{}, driver.Unavailable(op, err)
	}
	return decodeResult(raw)
}

// Navigate implements driver.Navigator.
func (d *Driver) Navigate(ctx context.Context, ref driver.PageRef, url string) error {
	timeout := d.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := d.run(navCtx, ref, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	d.logger.Debug("Navigated.", zap.String("page", string(ref)), zap.String("url", url))
	return nil
}

// Query implements driver.Querier. Transport failures are reported as
// ErrDriverUnavailable so the poller retries them.
func (d *Driver) Query(ctx context.Context, ref driver.PageRef, q driver.Query) ([]driver.ElementInfo, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, driver.Unavailable("query rate limit", err)
	}
	res, err := d.evaluate(ctx, ref, "query", buildQueryScript(q))
	if err != nil {
		return nil, err
	}
	if res.Invalid != "" {
		return nil, fmt.Errorf("%w: %s", resolve.ErrInvalidLocator, res.Invalid)
	}
	return res.Elements, nil
}

// Close shuts the browser down.
func (d *Driver) Close() error {
	d.mu.Lock()
	tabs := d.tabs
	d.tabs = make(map[driver.PageRef]*tab)
	d.contexts = make(map[driver.ContextRef]cdpproto.BrowserContextID)
	d.mu.Unlock()
	for _, t := range tabs {
		t.cancel()
	}

	var err error
	if cerr := chromedp.Cancel(d.browserCtx); cerr != nil && !errors.Is(cerr, context.Canceled) {
		err = cerr
	}
	d.browserCancel()
	d.allocCancel()
	d.logger.Info("Browser closed.")
	return err
}
