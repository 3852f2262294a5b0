// internal/driver/driver.go
package driver

import (
	"context"
	"errors"
	"fmt"
)

// ErrDriverUnavailable marks a transient failure of the underlying browser
// collaborator. Callers test for it with errors.Is.
var ErrDriverUnavailable = errors.New("driver unavailable")

// Unavailable wraps cause so that errors.Is(err, ErrDriverUnavailable) holds.
func Unavailable(op string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", op, ErrDriverUnavailable)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrDriverUnavailable, cause)
}

// QueryKind is the base query variant understood by a Querier.
type QueryKind string

const (
	QueryRole        QueryKind = "role"
	QueryText        QueryKind = "text"
	QueryLabel       QueryKind = "label"
	QueryPlaceholder QueryKind = "placeholder"
	QueryTestID      QueryKind = "testid"
	QuerySelector    QueryKind = "selector"
)

// Descriptor is the base query of a locator, without its filter chain.
type Descriptor struct {
	Kind      QueryKind `json:"kind"`
	Value     string    `json:"value"`
	Name      string    `json:"name,omitempty"`
	Exact     bool      `json:"exact,omitempty"`
	Attribute string    `json:"attribute,omitempty"`
}

// Handle is an opaque reference to an element, valid only for the page that
// produced it and only until that page's document changes.
type Handle string

// Query scopes a Descriptor. When Within is set, only descendants of that
// element are considered.
type Query struct {
	Descriptor Descriptor
	Within     Handle
}

// Box is an element's border box in CSS pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether the box has no area.
func (b Box) Empty() bool { return b.Width <= 0 || b.Height <= 0 }

// Center returns the midpoint of the box.
func (b Box) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// ElementInfo is everything the core needs to know about one element at one
// instant.
type ElementInfo struct {
	Handle        Handle `json:"handle"`
	Tag           string `json:"tag"`
	Text          string `json:"text"`
	Value         string `json:"value"`
	Role          string `json:"role"`
	Name          string `json:"name"`
	Visible       bool   `json:"visible"`
	Enabled       bool   `json:"enabled"`
	Editable      bool   `json:"editable"`
	Checked       bool   `json:"checked"`
	PointerEvents bool   `json:"pointerEvents"`
	Box           Box    `json:"box"`
	// DocumentOrder is the element's position in a depth-first walk of the
	// document. Lower values come first.
	DocumentOrder int `json:"order"`
}

// PageRef is the driver's raw page identity.
type PageRef string

// ContextRef is the driver's raw isolated-context identity.
type ContextRef string

// Querier is the document-query channel.
type Querier interface {
	// Query returns the elements currently matching q, in any order. Transient
	// failures are wrapped with ErrDriverUnavailable.
	Query(ctx context.Context, page PageRef, q Query) ([]ElementInfo, error)
}

// QuerierFunc adapts a function to the Querier interface.
type QuerierFunc func(ctx context.Context, page PageRef, q Query) ([]ElementInfo, error)

// Query calls f.
func (f QuerierFunc) Query(ctx context.Context, page PageRef, q Query) ([]ElementInfo, error) {
	return f(ctx, page, q)
}

// ActionKind enumerates the interactions an Actor performs.
type ActionKind string

const (
	ActionClick       ActionKind = "click"
	ActionDoubleClick ActionKind = "dblclick"
	ActionHover       ActionKind = "hover"
	ActionFill        ActionKind = "fill"
	ActionPress       ActionKind = "press"
	ActionSelect      ActionKind = "select"
	ActionCheck       ActionKind = "check"
	ActionUncheck     ActionKind = "uncheck"
)

// Action is one interaction with its argument. Value is the text for fill,
// the key for press and the option value for select.
type Action struct {
	Kind  ActionKind
	Value string
}

func (a Action) String() string {
	if a.Value == "" {
		return string(a.Kind)
	}
	return fmt.Sprintf("%s(%q)", a.Kind, a.Value)
}

// Actor performs a single interaction against a previously resolved element.
type Actor interface {
	Act(ctx context.Context, page PageRef, handle Handle, action Action) error
}

// Provisioner is the context-provisioning channel.
type Provisioner interface {
	NewContext(ctx context.Context) (ContextRef, error)
	ResetContext(ctx context.Context, raw ContextRef) error
	CloseContext(ctx context.Context, raw ContextRef) error
	NewPage(ctx context.Context, raw ContextRef) (PageRef, error)
	ClosePage(ctx context.Context, page PageRef) error
}

// Navigator loads a URL into a page. Drivers that can navigate implement it.
type Navigator interface {
	Navigate(ctx context.Context, page PageRef, url string) error
}

// Driver bundles every channel a real browser collaborator provides.
type Driver interface {
	Querier
	Actor
	Provisioner
}
