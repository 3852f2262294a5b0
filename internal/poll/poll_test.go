// internal/poll/poll_test.go
package poll

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autowait/internal/condition"
	"github.com/xkilldash9x/autowait/internal/driver"
	"github.com/xkilldash9x/autowait/internal/locator"
	"github.com/xkilldash9x/autowait/internal/resolve"
)

var submit = locator.ByRole("button", "Submit", false)

func button(handle driver.Handle) driver.ElementInfo {
	return driver.ElementInfo{
		Handle:        handle,
		Tag:           "button",
		Role:          "button",
		Name:          "Submit",
		Text:          "Submit",
		Visible:       true,
		Enabled:       true,
		PointerEvents: true,
		Box:           driver.Box{X: 10, Y: 10, Width: 80, Height: 24},
	}
}

func newTestEngine(t *testing.T, q driver.Querier) *Engine {
	t.Helper()
	e, err := NewEngine(q, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return e
}

// appearsAfter returns a querier whose single button is attached once d has
// elapsed since the first query.
func appearsAfter(d time.Duration) (driver.Querier, *atomic.Int32) {
	var calls atomic.Int32
	var start time.Time
	return driver.QuerierFunc(func(ctx context.Context, _ driver.PageRef, _ driver.Query) ([]driver.ElementInfo, error) {
		if calls.Add(1) == 1 {
			start = time.Now()
		}
		if time.Since(start) >= d {
			return []driver.ElementInfo{button("b1")}, nil
		}
		return nil, nil
	}), &calls
}

func fixed(timeout, interval time.Duration) Spec {
	return Spec{Timeout: timeout, Interval: Fixed(interval)}
}

func TestPollSatisfiedAfterElementAppears(t *testing.T) {
	defer goleak.VerifyNone(t)

	q, calls := appearsAfter(500 * time.Millisecond)
	e := newTestEngine(t, q)

	out := e.Poll(t.Context(), "p1", submit, condition.Visible(), fixed(2*time.Second, 100*time.Millisecond))

	require.Equal(t, StatusSatisfied, out.Status, "err: %v", out.Err)
	assert.NoError(t, out.Err)
	assert.GreaterOrEqual(t, out.Elapsed, 500*time.Millisecond)
	assert.LessOrEqual(t, out.Elapsed, 700*time.Millisecond)
	assert.Equal(t, 1, out.Set.Len())
	assert.Equal(t, driver.Handle("b1"), out.Set.At(0).Handle)
	assert.Equal(t, int(calls.Load()), out.Attempts, "every attempt resolves afresh")
	assert.True(t, out.OK())
}

func TestPollStrictViolationFailsImmediately(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := driver.QuerierFunc(func(context.Context, driver.PageRef, driver.Query) ([]driver.ElementInfo, error) {
		a, b := button("b1"), button("b2")
		b.DocumentOrder = 1
		return []driver.ElementInfo{a, b}, nil
	})
	e := newTestEngine(t, q)

	out := e.Poll(t.Context(), "p1", submit, condition.Visible(), fixed(5*time.Second, 50*time.Millisecond))

	require.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.Less(t, out.Elapsed, 50*time.Millisecond)
	assert.True(t, errors.Is(out.Err, resolve.ErrAmbiguousMatch))

	var amb *resolve.AmbiguousMatchError
	require.True(t, errors.As(out.Err, &amb))
	assert.Equal(t, 2, amb.Count)
	assert.Contains(t, out.Err.Error(), `getByRole("button", name="Submit")`)
}

func TestPollCountToleratesMultipleMatches(t *testing.T) {
	q := driver.QuerierFunc(func(context.Context, driver.PageRef, driver.Query) ([]driver.ElementInfo, error) {
		a, b := button("b1"), button("b2")
		b.DocumentOrder = 1
		return []driver.ElementInfo{b, a}, nil
	})
	e := newTestEngine(t, q)

	out := e.Poll(t.Context(), "p1", submit, condition.HasCount(2), fixed(time.Second, 10*time.Millisecond))

	require.Equal(t, StatusSatisfied, out.Status)
	assert.Equal(t, []driver.Handle{"b1", "b2"}, out.Set.Handles())
}

func TestPollTimesOutWithinOneInterval(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := driver.QuerierFunc(func(context.Context, driver.PageRef, driver.Query) ([]driver.ElementInfo, error) {
		return nil, nil
	})
	e := newTestEngine(t, q)

	out := e.Poll(t.Context(), "p1", submit, condition.Visible(), fixed(300*time.Millisecond, 100*time.Millisecond))

	require.Equal(t, StatusTimedOut, out.Status)
	assert.GreaterOrEqual(t, out.Elapsed, 300*time.Millisecond)
	assert.LessOrEqual(t, out.Elapsed, 350*time.Millisecond)
	assert.GreaterOrEqual(t, out.Attempts, 3)

	var timedOut *TimedOutError
	require.True(t, errors.As(out.Err, &timedOut))
	assert.True(t, errors.Is(out.Err, ErrTimedOut))
	assert.True(t, errors.Is(out.Err, ErrNotYet))
	assert.Equal(t, 0, timedOut.LastCount)
	assert.Equal(t, "no element matches", timedOut.LastReason)
	assert.Contains(t, out.Err.Error(), `getByRole("button", name="Submit")`)
}

func TestPollZeroTimeoutEvaluatesOnce(t *testing.T) {
	q, calls := appearsAfter(time.Hour)
	e := newTestEngine(t, q)

	out := e.Poll(t.Context(), "p1", submit, condition.Attached(), fixed(0, 50*time.Millisecond))

	assert.Equal(t, StatusTimedOut, out.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, int32(1), calls.Load())

	q2, _ := appearsAfter(0)
	out = newTestEngine(t, q2).Poll(t.Context(), "p1", submit, condition.Attached(), fixed(0, 50*time.Millisecond))
	assert.Equal(t, StatusSatisfied, out.Status)
}

func TestPollCancelledDuringSleep(t *testing.T) {
	defer goleak.VerifyNone(t)

	q, _ := appearsAfter(time.Hour)
	e := newTestEngine(t, q)

	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(100*time.Millisecond, cancel)

	out := e.Poll(ctx, "p1", submit, condition.Visible(), fixed(10*time.Second, time.Second))

	require.Equal(t, StatusCancelled, out.Status)
	assert.Less(t, out.Elapsed, 300*time.Millisecond)
	assert.True(t, errors.Is(out.Err, ErrCancelled))
	assert.True(t, errors.Is(out.Err, context.Canceled))
}

func TestPollCancelledBeforeStart(t *testing.T) {
	q, calls := appearsAfter(0)
	e := newTestEngine(t, q)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	out := e.Poll(ctx, "p1", submit, condition.Visible(), DefaultSpec())
	assert.Equal(t, StatusCancelled, out.Status)
	assert.Equal(t, 0, out.Attempts)
	assert.Equal(t, int32(0), calls.Load())
}

func TestPollCancellationBeatsLateSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	q := driver.QuerierFunc(func(context.Context, driver.PageRef, driver.Query) ([]driver.ElementInfo, error) {
		// The evaluation completes after the caller has given up.
		cancel()
		return []driver.ElementInfo{button("b1")}, nil
	})
	e := newTestEngine(t, q)

	out := e.Poll(ctx, "p1", submit, condition.Visible(), DefaultSpec())
	assert.Equal(t, StatusCancelled, out.Status)
}

func TestPollTransientDriverFailures(t *testing.T) {
	t.Run("recovers below the bound", func(t *testing.T) {
		var calls atomic.Int32
		q := driver.QuerierFunc(func(context.Context, driver.PageRef, driver.Query) ([]driver.ElementInfo, error) {
			if calls.Add(1) <= 2 {
				return nil, driver.Unavailable("query", errors.New("target crashed"))
			}
			return []driver.ElementInfo{button("b1")}, nil
		})
		e := newTestEngine(t, q)

		spec := fixed(time.Second, 5*time.Millisecond)
		spec.MaxDriverFailures = 2
		out := e.Poll(t.Context(), "p1", submit, condition.Visible(), spec)

		require.Equal(t, StatusSatisfied, out.Status, "err: %v", out.Err)
		assert.Equal(t, 3, out.Attempts)
	})

	t.Run("escalates past the bound", func(t *testing.T) {
		q := driver.QuerierFunc(func(context.Context, driver.PageRef, driver.Query) ([]driver.ElementInfo, error) {
			return nil, driver.Unavailable("query", errors.New("websocket closed"))
		})
		e := newTestEngine(t, q)

		spec := fixed(time.Second, 5*time.Millisecond)
		spec.MaxDriverFailures = 2
		out := e.Poll(t.Context(), "p1", submit, condition.Visible(), spec)

		require.Equal(t, StatusFailed, out.Status)
		assert.Equal(t, 3, out.Attempts)
		assert.True(t, errors.Is(out.Err, ErrInfrastructure))
		assert.True(t, errors.Is(out.Err, driver.ErrDriverUnavailable))
		assert.False(t, errors.Is(out.Err, ErrTimedOut))

		var infra *InfrastructureError
		require.True(t, errors.As(out.Err, &infra))
		assert.Equal(t, 3, infra.Consecutive)
	})
}

func TestPollOtherResolutionErrorsAreTerminal(t *testing.T) {
	boom := errors.New("malformed selector")
	q := driver.QuerierFunc(func(context.Context, driver.PageRef, driver.Query) ([]driver.ElementInfo, error) {
		return nil, boom
	})
	e := newTestEngine(t, q)

	out := e.Poll(t.Context(), "p1", locator.BySelector("div[[["), condition.Attached(), DefaultSpec())
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.ErrorIs(t, out.Err, boom)
}

func TestPollStableWaitsForTwoMatchingBoxes(t *testing.T) {
	var calls atomic.Int32
	q := driver.QuerierFunc(func(context.Context, driver.PageRef, driver.Query) ([]driver.ElementInfo, error) {
		n := calls.Add(1)
		el := button("b1")
		if n <= 3 {
			el.Box.X = float64(n * 20) // sliding in
		} else {
			el.Box.X = 100
		}
		return []driver.ElementInfo{el}, nil
	})
	e := newTestEngine(t, q)

	out := e.Poll(t.Context(), "p1", submit, condition.All(condition.Visible(), condition.Stable()), fixed(time.Second, 5*time.Millisecond))

	require.Equal(t, StatusSatisfied, out.Status, "err: %v", out.Err)
	assert.Equal(t, 5, out.Attempts, "positions 20,40,60,100,100")
}

func TestPollConditionFailureReportsUnmetConjunct(t *testing.T) {
	q := driver.QuerierFunc(func(context.Context, driver.PageRef, driver.Query) ([]driver.ElementInfo, error) {
		el := button("b1")
		el.Enabled = false
		return []driver.ElementInfo{el}, nil
	})
	e := newTestEngine(t, q)

	out := e.Poll(t.Context(), "p1", submit, condition.All(condition.Visible(), condition.Enabled()), fixed(60*time.Millisecond, 20*time.Millisecond))

	require.Equal(t, StatusTimedOut, out.Status)
	assert.Equal(t, "enabled", out.Verdict.Unmet)
	assert.Contains(t, out.Err.Error(), "element is disabled")
}

func TestPollInvalidSpec(t *testing.T) {
	q, calls := appearsAfter(0)
	e := newTestEngine(t, q)

	out := e.Poll(t.Context(), "p1", submit, condition.Visible(), Spec{Timeout: -time.Second, Interval: DefaultBackoff})
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, int32(0), calls.Load())
}

func TestNewEngineRequiresQuerier(t *testing.T) {
	_, err := NewEngine(nil, nil, nil)
	assert.Error(t, err)
}
