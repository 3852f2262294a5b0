// internal/locator/locator.go
package locator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/xkilldash9x/autowait/internal/driver"
)

// Kind identifies the base query of a Locator.
type Kind int

const (
	KindRole Kind = iota + 1
	KindText
	KindLabel
	KindPlaceholder
	KindTestID
	KindSelector
)

func (k Kind) String() string {
	switch k {
	case KindRole:
		return "role"
	case KindText:
		return "text"
	case KindLabel:
		return "label"
	case KindPlaceholder:
		return "placeholder"
	case KindTestID:
		return "testid"
	case KindSelector:
		return "selector"
	default:
		return "unknown"
	}
}

// FilterKind identifies one narrowing step in a Locator's filter chain.
type FilterKind int

const (
	FilterHas FilterKind = iota + 1
	FilterHasText
	FilterNth
)

// Filter narrows the set produced by the previous step. Only the field matching
// Kind is meaningful.
type Filter struct {
	Kind  FilterKind
	Sub   *Locator
	Text  string
	Index int
}

// DefaultTestIDAttribute is the attribute consulted by ByTestID locators.
const DefaultTestIDAttribute = "data-testid"

// Locator is an immutable, re-evaluatable description of a set of elements.
// It never holds a handle into a document; every use resolves it again.
type Locator struct {
	kind      Kind
	value     string
	name      string
	exact     bool
	attribute string
	filters   []Filter
}

// ByRole matches elements by ARIA role and, when name is non-empty, accessible name.
func ByRole(role, name string, exact bool) Locator {
	return Locator{kind: KindRole, value: role, name: name, exact: exact}
}

// ByText matches elements whose visible text contains (or equals, when exact) text.
func ByText(text string, exact bool) Locator {
	return Locator{kind: KindText, value: text, exact: exact}
}

// ByLabel matches form controls by the text of their associated label.
func ByLabel(text string, exact bool) Locator {
	return Locator{kind: KindLabel, value: text, exact: exact}
}

// ByPlaceholder matches inputs by placeholder text.
func ByPlaceholder(text string, exact bool) Locator {
	return Locator{kind: KindPlaceholder, value: text, exact: exact}
}

// ByTestID matches elements whose test-id attribute equals id.
func ByTestID(id string) Locator {
	return Locator{kind: KindTestID, value: id, exact: true, attribute: DefaultTestIDAttribute}
}

// ByTestIDAttribute is ByTestID with a custom attribute name.
func ByTestIDAttribute(attribute, id string) Locator {
	if attribute == "" {
		attribute = DefaultTestIDAttribute
	}
	return Locator{kind: KindTestID, value: id, exact: true, attribute: attribute}
}

// BySelector matches elements with a raw CSS selector.
func BySelector(selector string) Locator {
	return Locator{kind: KindSelector, value: selector}
}

// Kind returns the base query variant.
func (l Locator) Kind() Kind { return l.kind }

// IsZero reports whether l was never constructed through a builder.
func (l Locator) IsZero() bool { return l.kind == 0 }

// Filters returns a copy of the filter chain in declaration order.
func (l Locator) Filters() []Filter {
	out := make([]Filter, len(l.filters))
	copy(out, l.filters)
	return out
}

// with returns a copy of l with f appended. The backing array is never shared
// with l, so sibling locators built from the same parent stay independent.
func (l Locator) with(f Filter) Locator {
	next := l
	next.filters = make([]Filter, len(l.filters), len(l.filters)+1)
	copy(next.filters, l.filters)
	next.filters = append(next.filters, f)
	return next
}

// Has keeps elements that contain at least one match of sub.
func (l Locator) Has(sub Locator) Locator {
	s := sub
	return l.with(Filter{Kind: FilterHas, Sub: &s})
}

// HasText keeps elements whose text contains text (case-insensitive).
func (l Locator) HasText(text string) Locator {
	return l.with(Filter{Kind: FilterHasText, Text: text})
}

// Nth keeps the element at index. Negative indexes count from the end.
func (l Locator) Nth(index int) Locator {
	return l.with(Filter{Kind: FilterNth, Index: index})
}

// First is Nth(0).
func (l Locator) First() Locator { return l.Nth(0) }

// Last is Nth(-1).
func (l Locator) Last() Locator { return l.Nth(-1) }

// Descriptor is the base query sent over the document-query channel.
func (l Locator) Descriptor() driver.Descriptor {
	d := driver.Descriptor{Value: l.value, Name: l.name, Exact: l.exact}
	switch l.kind {
	case KindRole:
		d.Kind = driver.QueryRole
	case KindText:
		d.Kind = driver.QueryText
	case KindLabel:
		d.Kind = driver.QueryLabel
	case KindPlaceholder:
		d.Kind = driver.QueryPlaceholder
	case KindTestID:
		d.Kind = driver.QueryTestID
		d.Attribute = l.attribute
	case KindSelector:
		d.Kind = driver.QuerySelector
	}
	return d
}

// shape mirrors Locator without methods so cmp compares fields instead of
// dispatching back into Equal.
type shape struct {
	Kind      Kind
	Value     string
	Name      string
	Exact     bool
	Attribute string
	Filters   []filterShape
}

type filterShape struct {
	Kind  FilterKind
	Sub   *shape
	Text  string
	Index int
}

func (l Locator) shape() shape {
	s := shape{Kind: l.kind, Value: l.value, Name: l.name, Exact: l.exact, Attribute: l.attribute}
	for _, f := range l.filters {
		fs := filterShape{Kind: f.Kind, Text: f.Text, Index: f.Index}
		if f.Sub != nil {
			sub := f.Sub.shape()
			fs.Sub = &sub
		}
		s.Filters = append(s.Filters, fs)
	}
	return s
}

// Equal reports structural equality of kind, parameters and filter chain.
func (l Locator) Equal(other Locator) bool {
	return cmp.Equal(l.shape(), other.shape(), cmpopts.EquateEmpty())
}

// String renders the locator for diagnostics.
func (l Locator) String() string {
	var b strings.Builder
	switch l.kind {
	case KindRole:
		fmt.Fprintf(&b, "getByRole(%q", l.value)
		if l.name != "" {
			fmt.Fprintf(&b, ", name=%q", l.name)
		}
		if l.exact {
			b.WriteString(", exact")
		}
		b.WriteString(")")
	case KindText:
		fmt.Fprintf(&b, "getByText(%q%s)", l.value, exactSuffix(l.exact))
	case KindLabel:
		fmt.Fprintf(&b, "getByLabel(%q%s)", l.value, exactSuffix(l.exact))
	case KindPlaceholder:
		fmt.Fprintf(&b, "getByPlaceholder(%q%s)", l.value, exactSuffix(l.exact))
	case KindTestID:
		if l.attribute != DefaultTestIDAttribute {
			fmt.Fprintf(&b, "getByTestId(%q, attr=%q)", l.value, l.attribute)
		} else {
			fmt.Fprintf(&b, "getByTestId(%q)", l.value)
		}
	case KindSelector:
		fmt.Fprintf(&b, "locator(%q)", l.value)
	default:
		b.WriteString("<invalid locator>")
	}
	for _, f := range l.filters {
		switch f.Kind {
		case FilterHas:
			fmt.Fprintf(&b, ".filter(has=%s)", f.Sub.String())
		case FilterHasText:
			fmt.Fprintf(&b, ".filter(hasText=%q)", f.Text)
		case FilterNth:
			switch f.Index {
			case 0:
				b.WriteString(".first()")
			case -1:
				b.WriteString(".last()")
			default:
				b.WriteString(".nth(" + strconv.Itoa(f.Index) + ")")
			}
		}
	}
	return b.String()
}

func exactSuffix(exact bool) string {
	if exact {
		return ", exact"
	}
	return ""
}
