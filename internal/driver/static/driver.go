// internal/driver/static/driver.go
package static

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/autowait/internal/driver"
	"github.com/xkilldash9x/autowait/internal/network"
)

// Options configures a static Driver.
type Options struct {
	// HTML is loaded into every new page.
	HTML string
	// Routes maps URLs to documents served by Navigate without network access.
	Routes map[string]string
	// Client fetches http and https URLs that are not routed, shared by
	// every context. Nil gives each context its own client and cookie jar
	// built from Network.
	Client *http.Client
	// Network configures the per-context clients. Nil uses the defaults.
	Network *network.ClientConfig
	// Latency delays every query, honouring cancellation.
	Latency time.Duration
	Logger  *zap.Logger
}

// Hook observes an action after it has been applied and may mutate the
// document in response. Hooks run with the driver lock held and must not
// call back into the driver.
type Hook func(rec Record, doc *goquery.Document)

// Record is one action the driver has performed.
type Record struct {
	Page   driver.PageRef
	Handle driver.Handle
	Tag    string
	Action driver.Action
}

type browserContext struct {
	pages   map[driver.PageRef]struct{}
	storage map[string]string
	client  *http.Client
}

type page struct {
	owner   driver.ContextRef
	url     string
	doc     *goquery.Document
	seq     int
	handles map[*html.Node]driver.Handle
	nodes   map[driver.Handle]*html.Node
}

// Driver is an in-memory browser collaborator backed by parsed HTML. Each
// context keeps its own storage and set of pages; documents are queried with
// goquery and mutated in place by actions and hooks.
type Driver struct {
	opts      Options
	logger    *zap.Logger
	transport http.RoundTripper

	mu       sync.Mutex
	seq      int
	contexts map[driver.ContextRef]*browserContext
	pages    map[driver.PageRef]*page
	failures int
	queries  int
	records  []Record
	hooks    []Hook
}

var (
	_ driver.Driver    = (*Driver)(nil)
	_ driver.Navigator = (*Driver)(nil)
)

// New creates a static driver.
func New(opts Options) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Driver{
		opts:     opts,
		logger:   logger.Named("static_driver"),
		contexts: make(map[driver.ContextRef]*browserContext),
		pages:    make(map[driver.PageRef]*page),
	}
	if opts.Client == nil {
		if d.opts.Network == nil {
			d.opts.Network = network.NewDefaultClientConfig()
		}
		d.transport = network.NewTransport(d.opts.Network)
	}
	return d
}

func (d *Driver) newContextState() *browserContext {
	client := d.opts.Client
	if client == nil {
		client = network.NewClient(d.opts.Network, d.transport)
	}
	return &browserContext{
		pages:   make(map[driver.PageRef]struct{}),
		storage: make(map[string]string),
		client:  client,
	}
}

func (d *Driver) nextID(prefix string) string {
	d.seq++
	return fmt.Sprintf("%s-%d", prefix, d.seq)
}

// NewContext implements driver.Provisioner.
func (d *Driver) NewContext(ctx context.Context) (driver.ContextRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := driver.ContextRef(d.nextID("ctx"))
	d.contexts[id] = d.newContextState()
	d.logger.Debug("Context created.", zap.String("context", string(id)))
	return id, nil
}

// ResetContext clears the context's storage and cookies and closes any pages
// it still owns.
func (d *Driver) ResetContext(ctx context.Context, raw driver.ContextRef) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	bc, ok := d.contexts[raw]
	if !ok {
		return fmt.Errorf("unknown context %q", raw)
	}
	for p := range bc.pages {
		delete(d.pages, p)
	}
	d.contexts[raw] = d.newContextState()
	return nil
}

// CloseContext disposes of a context and its pages. Closing an unknown
// context is a no-op.
func (d *Driver) CloseContext(ctx context.Context, raw driver.ContextRef) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	bc, ok := d.contexts[raw]
	if !ok {
		return nil
	}
	for p := range bc.pages {
		delete(d.pages, p)
	}
	delete(d.contexts, raw)
	d.logger.Debug("Context closed.", zap.String("context", string(raw)))
	return nil
}

// NewPage opens a page in raw loaded with Options.HTML.
func (d *Driver) NewPage(ctx context.Context, raw driver.ContextRef) (driver.PageRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	doc, err := parse(strings.NewReader(d.opts.HTML))
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	bc, ok := d.contexts[raw]
	if !ok {
		return "", fmt.Errorf("unknown context %q", raw)
	}
	id := driver.PageRef(d.nextID("page"))
	p := &page{owner: raw, url: "about:blank"}
	p.load(doc)
	d.pages[id] = p
	bc.pages[id] = struct{}{}
	return id, nil
}

// ClosePage implements driver.Provisioner. Closing an unknown page is a no-op.
func (d *Driver) ClosePage(ctx context.Context, ref driver.PageRef) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pages[ref]
	if !ok {
		return nil
	}
	if bc, ok := d.contexts[p.owner]; ok {
		delete(bc.pages, ref)
	}
	delete(d.pages, ref)
	return nil
}

// Navigate loads target into ref. data:text/html URLs and routed URLs are
// served locally; other http and https URLs are fetched.
func (d *Driver) Navigate(ctx context.Context, ref driver.PageRef, target string) error {
	d.mu.Lock()
	bc, err := d.contextOf(ref)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	doc, err := d.fetch(ctx, bc.client, target)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pages[ref]
	if !ok {
		return fmt.Errorf("unknown page %q", ref)
	}
	p.url = target
	p.load(doc)
	d.logger.Debug("Navigated.", zap.String("page", string(ref)), zap.String("url", target))
	return nil
}

func (d *Driver) fetch(ctx context.Context, client *http.Client, target string) (*goquery.Document, error) {
	if body, ok := d.opts.Routes[target]; ok {
		return parse(strings.NewReader(body))
	}
	if target == "about:blank" {
		return parse(strings.NewReader(""))
	}
	if rest, ok := strings.CutPrefix(target, "data:text/html,"); ok {
		body, err := url.PathUnescape(rest)
		if err != nil {
			return nil, fmt.Errorf("invalid data url: %w", err)
		}
		return parse(strings.NewReader(body))
	}

	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("cannot navigate to %q", target)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, driver.Unavailable("navigate", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("navigate %s: status %d", target, resp.StatusCode)
	}
	return parse(io.LimitReader(resp.Body, 10<<20))
}

// URL returns the address last loaded into ref.
func (d *Driver) URL(ref driver.PageRef) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pages[ref]; ok {
		return p.url
	}
	return ""
}

// SetContent replaces the document of ref. Handles into the old document
// no longer resolve.
func (d *Driver) SetContent(ref driver.PageRef, markup string) error {
	doc, err := parse(strings.NewReader(markup))
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pages[ref]
	if !ok {
		return fmt.Errorf("unknown page %q", ref)
	}
	p.load(doc)
	return nil
}

// Mutate runs fn against the live document of ref. Nodes that survive the
// mutation keep their handles.
func (d *Driver) Mutate(ref driver.PageRef, fn func(doc *goquery.Document)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pages[ref]
	if !ok {
		return fmt.Errorf("unknown page %q", ref)
	}
	fn(p.doc)
	return nil
}

// SetStorage writes a key into the storage of the context owning ref.
func (d *Driver) SetStorage(ref driver.PageRef, key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	bc, err := d.contextOf(ref)
	if err != nil {
		return err
	}
	bc.storage[key] = value
	return nil
}

// Storage reads a key from the storage of the context owning ref.
func (d *Driver) Storage(ref driver.PageRef, key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	bc, err := d.contextOf(ref)
	if err != nil {
		return "", false
	}
	v, ok := bc.storage[key]
	return v, ok
}

func (d *Driver) contextOf(ref driver.PageRef) (*browserContext, error) {
	p, ok := d.pages[ref]
	if !ok {
		return nil, fmt.Errorf("unknown page %q", ref)
	}
	bc, ok := d.contexts[p.owner]
	if !ok {
		return nil, fmt.Errorf("unknown context %q", p.owner)
	}
	return bc, nil
}

// Close releases idle connections held by the per-context clients.
func (d *Driver) Close() error {
	if t, ok := d.transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}

// Cookies returns the cookies the context owning ref would send to u.
func (d *Driver) Cookies(ref driver.PageRef, u *url.URL) []*http.Cookie {
	d.mu.Lock()
	defer d.mu.Unlock()
	bc, err := d.contextOf(ref)
	if err != nil || bc.client.Jar == nil {
		return nil
	}
	return bc.client.Jar.Cookies(u)
}

// InjectFailures makes the next n queries fail with ErrDriverUnavailable.
func (d *Driver) InjectFailures(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = n
}

// OnAction registers a hook that runs after every action.
func (d *Driver) OnAction(h Hook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks = append(d.hooks, h)
}

// Actions returns every action performed so far, oldest first.
func (d *Driver) Actions() []Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Record, len(d.records))
	copy(out, d.records)
	return out
}

// Queries returns the number of queries served, including failed ones.
func (d *Driver) Queries() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queries
}

// Contexts returns the number of open contexts.
func (d *Driver) Contexts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.contexts)
}

func parse(r io.Reader) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func (p *page) load(doc *goquery.Document) {
	p.doc = doc
	p.handles = make(map[*html.Node]driver.Handle)
	p.nodes = make(map[driver.Handle]*html.Node)
}

// handle returns the stable handle of n, assigning one on first sight.
func (p *page) handle(ref driver.PageRef, n *html.Node) driver.Handle {
	if h, ok := p.handles[n]; ok {
		return h
	}
	p.seq++
	h := driver.Handle(fmt.Sprintf("%s/e%d", ref, p.seq))
	p.handles[n] = h
	p.nodes[h] = n
	return h
}

// node resolves h, reporting false once the node has left the document.
func (p *page) node(h driver.Handle) (*html.Node, bool) {
	n, ok := p.nodes[h]
	if !ok {
		return nil, false
	}
	root := p.doc.Nodes[0]
	for a := n; a != nil; a = a.Parent {
		if a == root {
			return n, true
		}
	}
	return nil, false
}
