// internal/resolve/snapshot.go
package resolve

import (
	"context"
	"time"

	"github.com/xkilldash9x/autowait/internal/driver"
)

// Snapshot is one instant of one page. Queries issued through it are memoized
// so that a locator's base query and its sub-locator filters observe the same
// document state. A Snapshot must not outlive a single evaluation; the poll
// engine captures a fresh one every iteration.
type Snapshot struct {
	page     driver.PageRef
	querier  driver.Querier
	captured time.Time
	cache    map[driver.Query][]driver.ElementInfo
	previous map[driver.Handle]driver.Box
}

// NewSnapshot binds a page to its query channel. previous carries the element
// boxes observed in the prior evaluation (nil on the first one) and is used
// only by stability checks.
func NewSnapshot(page driver.PageRef, querier driver.Querier, previous map[driver.Handle]driver.Box) *Snapshot {
	return &Snapshot{
		page:     page,
		querier:  querier,
		captured: time.Now(),
		cache:    make(map[driver.Query][]driver.ElementInfo),
		previous: previous,
	}
}

// Page returns the page this snapshot observes.
func (s *Snapshot) Page() driver.PageRef { return s.page }

// CapturedAt returns when the snapshot was opened.
func (s *Snapshot) CapturedAt() time.Time { return s.captured }

// Query runs q against the page, or returns the memoized result if the same
// query was already issued through this snapshot.
func (s *Snapshot) Query(ctx context.Context, q driver.Query) ([]driver.ElementInfo, error) {
	if cached, ok := s.cache[q]; ok {
		return cached, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	elems, err := s.querier.Query(ctx, s.page, q)
	if err != nil {
		return nil, err
	}
	s.cache[q] = elems
	return elems, nil
}

// PreviousBox returns the box recorded for h in the previous evaluation.
func (s *Snapshot) PreviousBox(h driver.Handle) (driver.Box, bool) {
	if s.previous == nil {
		return driver.Box{}, false
	}
	b, ok := s.previous[h]
	return b, ok
}
