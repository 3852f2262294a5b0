// internal/driver/cdp/act.go
package cdp

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autowait/internal/driver"
)

// ErrDetached is returned when an action targets a handle whose element is
// gone from the document.
var ErrDetached = errors.New("element is not attached to the document")

// namedKeys maps key names to the runes chromedp.KeyEvent understands.
var namedKeys = map[string]string{
	"Enter":      kb.Enter,
	"Tab":        kb.Tab,
	"Escape":     kb.Escape,
	"Backspace":  kb.Backspace,
	"Delete":     kb.Delete,
	"ArrowUp":    kb.ArrowUp,
	"ArrowDown":  kb.ArrowDown,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
	"Home":       kb.Home,
	"End":        kb.End,
	"PageUp":     kb.PageUp,
	"PageDown":   kb.PageDown,
	"Space":      " ",
}

// keySequence resolves a key name, falling back to the literal text.
func keySequence(key string) string {
	if seq, ok := namedKeys[key]; ok {
		return seq
	}
	return key
}

// Act implements driver.Actor. Pointer actions dispatch real mouse events at
// the element's centre; text entry goes through the keyboard pipeline.
func (d *Driver) Act(ctx context.Context, ref driver.PageRef, h driver.Handle, action driver.Action) error {
	var err error
	switch action.Kind {
	case driver.ActionClick, driver.ActionCheck, driver.ActionUncheck:
		err = d.click(ctx, ref, h, 1)
	case driver.ActionDoubleClick:
		err = d.click(ctx, ref, h, 2)
	case driver.ActionHover:
		var x, y float64
		if x, y, err = d.point(ctx, ref, h); err == nil {
			err = d.run(ctx, ref, input.DispatchMouseEvent(input.MouseMoved, x, y))
		}
	case driver.ActionFill:
		if err = d.script(ctx, ref, "fill", fmt.Sprintf(jsClear, encodeArg(h))); err == nil && action.Value != "" {
			err = d.run(ctx, ref, input.InsertText(action.Value))
		}
	case driver.ActionPress:
		if err = d.script(ctx, ref, "focus", fmt.Sprintf(jsFocus, encodeArg(h))); err == nil {
			err = d.run(ctx, ref, chromedp.KeyEvent(keySequence(action.Value)))
		}
	case driver.ActionSelect:
		err = d.script(ctx, ref, "select", fmt.Sprintf(jsSelect, encodeArg(h), encodeArg(action.Value)))
	default:
		err = fmt.Errorf("unsupported action %q", action.Kind)
	}
	if err != nil {
		return err
	}
	d.logger.Debug("Action dispatched.",
		zap.String("page", string(ref)),
		zap.String("handle", string(h)),
		zap.String("action", action.String()))
	return nil
}

// point scrolls h into view and returns its centre.
func (d *Driver) point(ctx context.Context, ref driver.PageRef, h driver.Handle) (float64, float64, error) {
	res, err := d.evaluate(ctx, ref, "locate element", fmt.Sprintf(jsPoint, encodeArg(h)))
	if err != nil {
		return 0, 0, err
	}
	if res.Detached {
		return 0, 0, fmt.Errorf("%s: %w", h, ErrDetached)
	}
	return res.X, res.Y, nil
}

func (d *Driver) click(ctx context.Context, ref driver.PageRef, h driver.Handle, count int64) error {
	x, y, err := d.point(ctx, ref, h)
	if err != nil {
		return err
	}
	return d.run(ctx, ref,
		input.DispatchMouseEvent(input.MouseMoved, x, y),
		input.DispatchMouseEvent(input.MousePressed, x, y).WithButton(input.Left).WithButtons(1).WithClickCount(count),
		input.DispatchMouseEvent(input.MouseReleased, x, y).WithButton(input.Left).WithClickCount(count),
	)
}

// script evaluates an action helper and maps its envelope to an error.
func (d *Driver) script(ctx context.Context, ref driver.PageRef, op, src string) error {
	res, err := d.evaluate(ctx, ref, op, src)
	if err != nil {
		return err
	}
	switch {
	case res.Detached:
		return ErrDetached
	case res.Error != "":
		return errors.New(res.Error)
	}
	return nil
}
