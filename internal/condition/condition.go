// internal/condition/condition.go
package condition

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/autowait/internal/resolve"
)

// Status is the three-way result of evaluating a Condition once.
type Status int

const (
	// Satisfied ends polling successfully.
	Satisfied Status = iota + 1
	// NotYet asks the poller to try again after a backoff.
	NotYet
	// Failed is terminal. Retrying cannot change the answer.
	Failed
)

func (s Status) String() string {
	switch s {
	case Satisfied:
		return "satisfied"
	case NotYet:
		return "not_yet"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Verdict is the result of one evaluation, with a human-readable reason when
// the condition is not satisfied. Unmet names the failing conjunct.
type Verdict struct {
	Status Status
	Reason string
	Unmet  string
	Err    error
}

func satisfied() Verdict { return Verdict{Status: Satisfied} }

func notYet(c Condition, format string, args ...any) Verdict {
	return Verdict{Status: NotYet, Unmet: c.String(), Reason: fmt.Sprintf(format, args...)}
}

func failed(c Condition, err error) Verdict {
	return Verdict{Status: Failed, Unmet: c.String(), Reason: err.Error(), Err: err}
}

// Kind enumerates the closed set of conditions.
type Kind int

const (
	KindAttached Kind = iota + 1
	KindDetached
	KindVisible
	KindHidden
	KindEnabled
	KindDisabled
	KindEditable
	KindChecked
	KindUnchecked
	KindStable
	KindReceivesPointerEvents
	KindHasText
	KindHasValue
	KindHasCount
	KindAll
)

// Condition is a predicate over a ResolvedSet and the snapshot it came from.
// The set of kinds is closed; Evaluate handles each one explicitly.
type Condition struct {
	kind  Kind
	text  string
	exact bool
	count int
	parts []Condition
}

func Attached() Condition              { return Condition{kind: KindAttached} }
func Detached() Condition              { return Condition{kind: KindDetached} }
func Visible() Condition               { return Condition{kind: KindVisible} }
func Hidden() Condition                { return Condition{kind: KindHidden} }
func Enabled() Condition               { return Condition{kind: KindEnabled} }
func Disabled() Condition              { return Condition{kind: KindDisabled} }
func Editable() Condition              { return Condition{kind: KindEditable} }
func Checked() Condition               { return Condition{kind: KindChecked} }
func Unchecked() Condition             { return Condition{kind: KindUnchecked} }
func Stable() Condition                { return Condition{kind: KindStable} }
func ReceivesPointerEvents() Condition { return Condition{kind: KindReceivesPointerEvents} }

// HasText matches the element text. Exact compares whitespace-normalized text
// case-sensitively; otherwise a case-insensitive substring match is used.
func HasText(text string, exact bool) Condition {
	return Condition{kind: KindHasText, text: text, exact: exact}
}

// HasValue matches the current value of an input, textarea or select.
func HasValue(value string) Condition { return Condition{kind: KindHasValue, text: value} }

// HasCount is satisfied when exactly n elements match.
func HasCount(n int) Condition { return Condition{kind: KindHasCount, count: n} }

// All is the conjunction of parts. Every part is re-evaluated on every
// iteration; the first unmet part determines the verdict.
func All(parts ...Condition) Condition {
	cp := make([]Condition, len(parts))
	copy(cp, parts)
	return Condition{kind: KindAll, parts: cp}
}

// Kind returns the variant.
func (c Condition) Kind() Kind { return c.kind }

// IsZero reports whether c is the zero Condition.
func (c Condition) IsZero() bool { return c.kind == 0 }

// Parts returns the conjuncts of an All condition.
func (c Condition) Parts() []Condition {
	cp := make([]Condition, len(c.parts))
	copy(cp, c.parts)
	return cp
}

// RequiresStrict reports whether the locator must resolve to a single
// element. Only count assertions tolerate multiple matches.
func (c Condition) RequiresStrict() bool {
	switch c.kind {
	case KindHasCount:
		return false
	case KindAll:
		for _, p := range c.parts {
			if p.RequiresStrict() {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func (c Condition) String() string {
	switch c.kind {
	case KindAttached:
		return "attached"
	case KindDetached:
		return "detached"
	case KindVisible:
		return "visible"
	case KindHidden:
		return "hidden"
	case KindEnabled:
		return "enabled"
	case KindDisabled:
		return "disabled"
	case KindEditable:
		return "editable"
	case KindChecked:
		return "checked"
	case KindUnchecked:
		return "unchecked"
	case KindStable:
		return "stable"
	case KindReceivesPointerEvents:
		return "receives-pointer-events"
	case KindHasText:
		if c.exact {
			return fmt.Sprintf("hasText(%q, exact)", c.text)
		}
		return fmt.Sprintf("hasText(%q)", c.text)
	case KindHasValue:
		return fmt.Sprintf("hasValue(%q)", c.text)
	case KindHasCount:
		return fmt.Sprintf("hasCount(%d)", c.count)
	case KindAll:
		names := make([]string, len(c.parts))
		for i, p := range c.parts {
			names[i] = p.String()
		}
		return "all(" + strings.Join(names, ", ") + ")"
	default:
		return "invalid"
	}
}

// Evaluate applies the condition to one resolution. It is pure: the same set
// and snapshot always produce the same verdict.
func (c Condition) Evaluate(set resolve.ResolvedSet, snap *resolve.Snapshot) Verdict {
	switch c.kind {
	case KindAll:
		if len(c.parts) == 0 {
			return satisfied()
		}
		for _, p := range c.parts {
			if v := p.Evaluate(set, snap); v.Status != Satisfied {
				return v
			}
		}
		return satisfied()
	case KindHasCount:
		if c.count < 0 {
			return failed(c, fmt.Errorf("invalid expected count %d", c.count))
		}
		if set.Len() == c.count {
			return satisfied()
		}
		return notYet(c, "expected %d elements, found %d", c.count, set.Len())
	case KindDetached:
		if set.Len() == 0 {
			return satisfied()
		}
		return notYet(c, "element is still attached")
	case KindHidden:
		if set.Len() == 0 {
			return satisfied()
		}
	}

	if set.Len() > 1 {
		return failed(c, fmt.Errorf("%w: condition %s needs one element, found %d", resolve.ErrAmbiguousMatch, c, set.Len()))
	}
	if set.Len() == 0 {
		return notYet(c, "no element matches")
	}
	el := set.At(0)

	switch c.kind {
	case KindAttached:
		return satisfied()
	case KindVisible:
		if el.Visible {
			return satisfied()
		}
		return notYet(c, "element is not visible")
	case KindHidden:
		if !el.Visible {
			return satisfied()
		}
		return notYet(c, "element is visible")
	case KindEnabled:
		if el.Enabled {
			return satisfied()
		}
		return notYet(c, "element is disabled")
	case KindDisabled:
		if !el.Enabled {
			return satisfied()
		}
		return notYet(c, "element is enabled")
	case KindEditable:
		if el.Editable && el.Enabled {
			return satisfied()
		}
		return notYet(c, "element is not editable")
	case KindChecked:
		if el.Checked {
			return satisfied()
		}
		return notYet(c, "element is not checked")
	case KindUnchecked:
		if !el.Checked {
			return satisfied()
		}
		return notYet(c, "element is checked")
	case KindStable:
		prev, ok := snap.PreviousBox(el.Handle)
		if !ok {
			return notYet(c, "waiting for a second observation of the element box")
		}
		if prev != el.Box {
			return notYet(c, "element is moving")
		}
		return satisfied()
	case KindReceivesPointerEvents:
		if el.PointerEvents {
			return satisfied()
		}
		return notYet(c, "element does not receive pointer events")
	case KindHasText:
		if c.matchText(el.Text) {
			return satisfied()
		}
		return notYet(c, "element text is %q", el.Text)
	case KindHasValue:
		if el.Value == c.text {
			return satisfied()
		}
		return notYet(c, "element value is %q", el.Value)
	default:
		return failed(c, fmt.Errorf("unknown condition kind %d", c.kind))
	}
}

func (c Condition) matchText(actual string) bool {
	if c.exact {
		return collapse(actual) == collapse(c.text)
	}
	return strings.Contains(resolve.NormalizeText(actual), resolve.NormalizeText(c.text))
}

func collapse(s string) string { return strings.Join(strings.Fields(s), " ") }
