// internal/resolve/resolve.go
package resolve

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autowait/internal/driver"
	"github.com/xkilldash9x/autowait/internal/locator"
)

// ErrAmbiguousMatch is the sentinel matched by every *AmbiguousMatchError.
var ErrAmbiguousMatch = errors.New("strict mode violation")

// ErrInvalidLocator is returned for a zero Locator.
var ErrInvalidLocator = errors.New("invalid locator")

// AmbiguousMatchError reports a strict resolution that matched more than one
// element. It is a locator-authoring defect and is never retried.
type AmbiguousMatchError struct {
	Locator string
	Count   int
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("strict mode violation: %s resolved to %d elements", e.Locator, e.Count)
}

// Is lets errors.Is(err, ErrAmbiguousMatch) match.
func (e *AmbiguousMatchError) Is(target error) bool { return target == ErrAmbiguousMatch }

// ResolvedSet is the ordered result of evaluating a Locator at one instant.
type ResolvedSet struct {
	elements []driver.ElementInfo
}

// NewResolvedSet wraps elements as given. Callers are expected to pass them in
// document order.
func NewResolvedSet(elements []driver.ElementInfo) ResolvedSet {
	return ResolvedSet{elements: elements}
}

// Len returns the number of matched elements.
func (r ResolvedSet) Len() int { return len(r.elements) }

// At returns the i-th element in document order.
func (r ResolvedSet) At(i int) driver.ElementInfo { return r.elements[i] }

// Elements returns a copy of the matched elements.
func (r ResolvedSet) Elements() []driver.ElementInfo {
	out := make([]driver.ElementInfo, len(r.elements))
	copy(out, r.elements)
	return out
}

// Handles returns the element handles in document order.
func (r ResolvedSet) Handles() []driver.Handle {
	out := make([]driver.Handle, len(r.elements))
	for i, e := range r.elements {
		out[i] = e.Handle
	}
	return out
}

// Boxes indexes the element boxes by handle.
func (r ResolvedSet) Boxes() map[driver.Handle]driver.Box {
	out := make(map[driver.Handle]driver.Box, len(r.elements))
	for _, e := range r.elements {
		out[e.Handle] = e.Box
	}
	return out
}

// Engine turns Locators into ResolvedSets.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates a resolution engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger.Named("resolve")}
}

// Resolve evaluates loc against snap. The base query runs first, then each
// filter narrows the set in declaration order. Results are in document order.
//
// With strict set, more than one match yields *AmbiguousMatchError; zero
// matches yields an empty set and no error.
func (e *Engine) Resolve(ctx context.Context, loc locator.Locator, snap *Snapshot, strict bool) (ResolvedSet, error) {
	if loc.IsZero() {
		return ResolvedSet{}, ErrInvalidLocator
	}
	elems, err := e.resolveWithin(ctx, loc, snap, "")
	if err != nil {
		return ResolvedSet{}, err
	}
	if strict && len(elems) > 1 {
		e.logger.Debug("Strict resolution matched multiple elements.",
			zap.String("locator", loc.String()), zap.Int("count", len(elems)))
		return NewResolvedSet(elems), &AmbiguousMatchError{Locator: loc.String(), Count: len(elems)}
	}
	return NewResolvedSet(elems), nil
}

func (e *Engine) resolveWithin(ctx context.Context, loc locator.Locator, snap *Snapshot, within driver.Handle) ([]driver.ElementInfo, error) {
	raw, err := snap.Query(ctx, driver.Query{Descriptor: loc.Descriptor(), Within: within})
	if err != nil {
		return nil, err
	}
	elems := inDocumentOrder(raw)

	for _, f := range loc.Filters() {
		switch f.Kind {
		case locator.FilterHas:
			kept := elems[:0:0]
			for _, el := range elems {
				inner, err := e.resolveWithin(ctx, *f.Sub, snap, el.Handle)
				if err != nil {
					return nil, err
				}
				if len(inner) > 0 {
					kept = append(kept, el)
				}
			}
			elems = kept
		case locator.FilterHasText:
			needle := NormalizeText(f.Text)
			kept := elems[:0:0]
			for _, el := range elems {
				if strings.Contains(NormalizeText(el.Text), needle) {
					kept = append(kept, el)
				}
			}
			elems = kept
		case locator.FilterNth:
			idx := f.Index
			if idx < 0 {
				idx += len(elems)
			}
			if idx < 0 || idx >= len(elems) {
				elems = nil
			} else {
				elems = []driver.ElementInfo{elems[idx]}
			}
		}
	}
	return elems, nil
}

// inDocumentOrder copies elems, drops duplicate handles and sorts by document
// position so repeated resolutions of an unchanged document agree.
func inDocumentOrder(elems []driver.ElementInfo) []driver.ElementInfo {
	seen := make(map[driver.Handle]struct{}, len(elems))
	out := make([]driver.ElementInfo, 0, len(elems))
	for _, el := range elems {
		if _, dup := seen[el.Handle]; dup {
			continue
		}
		seen[el.Handle] = struct{}{}
		out = append(out, el)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DocumentOrder != out[j].DocumentOrder {
			return out[i].DocumentOrder < out[j].DocumentOrder
		}
		return out[i].Handle < out[j].Handle
	})
	return out
}

// NormalizeText lowercases and collapses whitespace runs.
func NormalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
