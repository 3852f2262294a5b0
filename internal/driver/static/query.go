// internal/driver/static/query.go
package static

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/autowait/internal/driver"
	"github.com/xkilldash9x/autowait/internal/resolve"
)

// Query implements driver.Querier.
func (d *Driver) Query(ctx context.Context, ref driver.PageRef, q driver.Query) ([]driver.ElementInfo, error) {
	if d.opts.Latency > 0 {
		t := time.NewTimer(d.opts.Latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries++
	if d.failures > 0 {
		d.failures--
		return nil, driver.Unavailable("query", fmt.Errorf("injected failure on %s", ref))
	}
	p, ok := d.pages[ref]
	if !ok {
		return nil, fmt.Errorf("unknown page %q", ref)
	}

	match, err := matcher(p.doc, q.Descriptor)
	if err != nil {
		return nil, err
	}

	var scope *html.Node
	if q.Within != "" {
		n, ok := p.node(q.Within)
		if !ok {
			// The scoping element left the document; nothing inside it matches.
			return nil, nil
		}
		scope = n
	}

	var (
		out   []driver.ElementInfo
		order int
	)
	walk(p.doc.Nodes[0], func(n *html.Node) {
		order++
		if scope != nil && (n == scope || !contains(scope, n)) {
			return
		}
		if match(n) {
			out = append(out, info(ref, p, n, order))
		}
	})
	if q.Descriptor.Kind == driver.QueryText {
		out = deepest(p, out)
	}
	d.logger.Debug("Query served.",
		zap.String("page", string(ref)),
		zap.String("kind", string(q.Descriptor.Kind)),
		zap.String("value", q.Descriptor.Value),
		zap.Int("count", len(out)))
	return out, nil
}

func walk(n *html.Node, fn func(*html.Node)) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			fn(c)
		}
		walk(c, fn)
	}
}

func contains(ancestor, n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p == ancestor {
			return true
		}
	}
	return false
}

func textMatches(actual, want string, exact bool) bool {
	if exact {
		return collapse(actual) == collapse(want)
	}
	return strings.Contains(resolve.NormalizeText(actual), resolve.NormalizeText(want))
}

// matcher compiles a descriptor into a node predicate.
func matcher(doc *goquery.Document, desc driver.Descriptor) (func(*html.Node) bool, error) {
	switch desc.Kind {
	case driver.QueryRole:
		role := strings.ToLower(desc.Value)
		return func(n *html.Node) bool {
			if implicitRole(n) != role {
				return false
			}
			return desc.Name == "" || textMatches(accessibleName(doc, n), desc.Name, desc.Exact)
		}, nil
	case driver.QueryText:
		return func(n *html.Node) bool {
			switch n.DataAtom {
			case atom.Html, atom.Head, atom.Body, atom.Script, atom.Style, atom.Title, atom.Template:
				return false
			}
			return textMatches(nodeText(n), desc.Value, desc.Exact)
		}, nil
	case driver.QueryLabel:
		return func(n *html.Node) bool {
			if v, ok := attr(n, "aria-label"); ok && textMatches(v, desc.Value, desc.Exact) {
				return true
			}
			if v := labelledBy(doc, n); v != "" && textMatches(v, desc.Value, desc.Exact) {
				return true
			}
			switch n.DataAtom {
			case atom.Input, atom.Textarea, atom.Select, atom.Button:
				v := labelText(doc, n)
				return v != "" && textMatches(v, desc.Value, desc.Exact)
			}
			return false
		}, nil
	case driver.QueryPlaceholder:
		return func(n *html.Node) bool {
			v, ok := attr(n, "placeholder")
			return ok && textMatches(v, desc.Value, desc.Exact)
		}, nil
	case driver.QueryTestID:
		name := desc.Attribute
		if name == "" {
			name = "data-testid"
		}
		return func(n *html.Node) bool {
			v, ok := attr(n, name)
			return ok && v == desc.Value
		}, nil
	case driver.QuerySelector:
		sel, err := cascadia.Compile(desc.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: selector %q: %v", resolve.ErrInvalidLocator, desc.Value, err)
		}
		return sel.Match, nil
	default:
		return nil, fmt.Errorf("%w: unsupported query kind %q", resolve.ErrInvalidLocator, desc.Kind)
	}
}

// deepest drops text matches that contain another match, so a text query
// lands on the innermost element carrying the text.
func deepest(p *page, elems []driver.ElementInfo) []driver.ElementInfo {
	nodes := make([]*html.Node, len(elems))
	for i, el := range elems {
		nodes[i] = p.nodes[el.Handle]
	}
	out := elems[:0:0]
	for i, el := range elems {
		outer := false
		for j, other := range nodes {
			if i != j && contains(nodes[i], other) {
				outer = true
				break
			}
		}
		if !outer {
			out = append(out, el)
		}
	}
	return out
}

func info(ref driver.PageRef, p *page, n *html.Node, order int) driver.ElementInfo {
	visible := isVisible(n)
	enabled := isEnabled(n)
	return driver.ElementInfo{
		Handle:        p.handle(ref, n),
		Tag:           n.Data,
		Text:          nodeText(n),
		Value:         controlValue(n),
		Role:          implicitRole(n),
		Name:          accessibleName(p.doc, n),
		Visible:       visible,
		Enabled:       enabled,
		Editable:      enabled && isEditable(n),
		Checked:       isChecked(n),
		PointerEvents: receivesPointerEvents(n),
		Box:           box(n, order, visible),
		DocumentOrder: order,
	}
}
