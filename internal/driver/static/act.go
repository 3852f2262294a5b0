// internal/driver/static/act.go
package static

import (
	"context"
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/autowait/internal/driver"
)

// ErrDetached is returned when an action targets a handle whose node is no
// longer in the document.
var ErrDetached = errors.New("element is not attached to the document")

// Act implements driver.Actor. State changes mirror what a browser would do
// for the same interaction on the same markup.
func (d *Driver) Act(ctx context.Context, ref driver.PageRef, h driver.Handle, action driver.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pages[ref]
	if !ok {
		return fmt.Errorf("unknown page %q", ref)
	}
	n, ok := p.node(h)
	if !ok {
		return fmt.Errorf("%s: %w", h, ErrDetached)
	}

	if err := apply(n, action); err != nil {
		return err
	}

	rec := Record{Page: ref, Handle: h, Tag: n.Data, Action: action}
	d.records = append(d.records, rec)
	d.logger.Debug("Action applied.",
		zap.String("page", string(ref)),
		zap.String("handle", string(h)),
		zap.String("action", action.String()))
	for _, hook := range d.hooks {
		hook(rec, p.doc)
	}
	return nil
}

func apply(n *html.Node, action driver.Action) error {
	switch action.Kind {
	case driver.ActionClick:
		toggle(n)
	case driver.ActionCheck:
		setChecked(n, true)
	case driver.ActionUncheck:
		setChecked(n, false)
	case driver.ActionFill:
		if !isEditable(n) || !isEnabled(n) {
			return fmt.Errorf("cannot fill <%s>: element is not editable", n.Data)
		}
		setValue(n, action.Value)
	case driver.ActionPress:
		// Printable single characters are typed into editable fields.
		if len([]rune(action.Value)) == 1 && isEditable(n) {
			setValue(n, controlValue(n)+action.Value)
		}
	case driver.ActionSelect:
		return selectOption(n, action.Value)
	case driver.ActionDoubleClick, driver.ActionHover:
	default:
		return fmt.Errorf("unsupported action %q", action.Kind)
	}
	return nil
}

func isToggle(n *html.Node) bool {
	if n.DataAtom == atom.Input {
		t := inputType(n)
		return t == "checkbox" || t == "radio"
	}
	_, ok := attr(n, "aria-checked")
	return ok
}

func toggle(n *html.Node) {
	if !isToggle(n) {
		return
	}
	if n.DataAtom == atom.Input && inputType(n) == "radio" {
		setChecked(n, true)
		return
	}
	setChecked(n, !isChecked(n))
}

func setChecked(n *html.Node, on bool) {
	if _, ok := attr(n, "aria-checked"); ok {
		setAttr(n, "aria-checked", fmt.Sprint(on))
		return
	}
	if on {
		setAttr(n, "checked", "")
	} else {
		removeAttr(n, "checked")
	}
}

func setValue(n *html.Node, v string) {
	switch n.DataAtom {
	case atom.Input:
		setAttr(n, "value", v)
	default:
		goquery.NewDocumentFromNode(n).SetText(v)
	}
}

func selectOption(n *html.Node, value string) error {
	if n.DataAtom != atom.Select {
		return fmt.Errorf("cannot select on <%s>: element is not a select", n.Data)
	}
	opts := goquery.NewDocumentFromNode(n).Find("option")
	var target *html.Node
	opts.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if optionValue(s.Nodes[0]) == value {
			target = s.Nodes[0]
			return false
		}
		return true
	})
	if target == nil {
		return fmt.Errorf("select has no option %q", value)
	}
	opts.Each(func(_ int, s *goquery.Selection) { removeAttr(s.Nodes[0], "selected") })
	setAttr(target, "selected", "")
	return nil
}
