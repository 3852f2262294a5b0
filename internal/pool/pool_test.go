// internal/pool/pool_test.go
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autowait/internal/driver"
	"github.com/xkilldash9x/autowait/internal/session"
)

// fakeProvisioner hands out numbered contexts and pages and records every
// call. Reset can be made to fail.
type fakeProvisioner struct {
	mu        sync.Mutex
	next      int
	live      map[driver.ContextRef]bool
	resets    int
	closes    int
	resetErr  error
	createErr error
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{live: make(map[driver.ContextRef]bool)}
}

func (f *fakeProvisioner) NewContext(context.Context) (driver.ContextRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.next++
	raw := driver.ContextRef(fmt.Sprintf("ctx-%d", f.next))
	f.live[raw] = true
	return raw, nil
}

func (f *fakeProvisioner) ResetContext(context.Context, driver.ContextRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return f.resetErr
}

func (f *fakeProvisioner) CloseContext(_ context.Context, raw driver.ContextRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	delete(f.live, raw)
	return nil
}

func (f *fakeProvisioner) NewPage(_ context.Context, raw driver.ContextRef) (driver.PageRef, error) {
	return driver.PageRef(string(raw) + "/page"), nil
}

func (f *fakeProvisioner) ClosePage(context.Context, driver.PageRef) error { return nil }

func (f *fakeProvisioner) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

func newPool(t *testing.T, prov driver.Provisioner, opts Options) *Pool {
	t.Helper()
	p, err := New(prov, opts, zaptest.NewLogger(t))
	require.NoError(t, err)
	return p
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(nil, Options{Size: 1}, nil)
	assert.Error(t, err)
	_, err = New(newFakeProvisioner(), Options{Size: 0}, nil)
	assert.Error(t, err)
	_, err = New(newFakeProvisioner(), Options{Size: 1, MaxIdle: -1}, nil)
	assert.Error(t, err)
}

func TestCheckoutCheckin(t *testing.T) {
	defer goleak.VerifyNone(t)
	prov := newFakeProvisioner()
	p := newPool(t, prov, Options{Size: 2, MaxIdle: 2, ReuseContexts: true})

	ec, err := p.Checkout(t.Context())
	require.NoError(t, err)
	assert.Equal(t, session.StateActive, ec.State())
	assert.Equal(t, 1, p.Stats().InUse)

	require.NoError(t, p.Checkin(t.Context(), ec))
	require.NoError(t, p.Checkin(t.Context(), ec), "checkin is idempotent")
	assert.Equal(t, session.StateCreated, ec.State())

	stats := p.Stats()
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, 1, stats.Created)

	again, err := p.Checkout(t.Context())
	require.NoError(t, err)
	assert.Same(t, ec, again, "a reset idle context is reused")
	assert.Equal(t, 1, p.Stats().Reused)
	require.NoError(t, p.Checkin(t.Context(), again))

	require.NoError(t, p.Close(t.Context()))
	assert.Equal(t, 0, prov.liveCount())
}

func TestDoubleCheckinReleasesOneSlot(t *testing.T) {
	p := newPool(t, newFakeProvisioner(), Options{Size: 1})

	ec, err := p.Checkout(t.Context())
	require.NoError(t, err)
	require.NoError(t, p.Checkin(t.Context(), ec))
	require.NoError(t, p.Checkin(t.Context(), ec))

	// If the second checkin had released again, two checkouts would fit.
	first, err := p.Checkout(t.Context())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Checkout(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NoError(t, p.Checkin(t.Context(), first))
}

func TestPoolOfTwoWithThreeConcurrentCheckouts(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := newPool(t, newFakeProvisioner(), Options{Size: 2})

	var (
		inFlight atomic.Int32
		peak     atomic.Int32
		seen     sync.Map
		wg       sync.WaitGroup
	)
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ec, err := p.Checkout(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			n := inFlight.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			_, dup := seen.LoadOrStore(ec, true)
			assert.False(t, dup, "two holders received the same context")
			time.Sleep(50 * time.Millisecond)
			inFlight.Add(-1)
			assert.NoError(t, p.Checkin(context.Background(), ec))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), peak.Load(), "never more than two contexts at once")
	assert.Equal(t, 0, p.Stats().InUse)
}

func TestPoolOfOneSerializes(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := newPool(t, newFakeProvisioner(), Options{Size: 1})

	type span struct{ start, end time.Time }
	spans := make([]span, 2)
	var wg sync.WaitGroup
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ec, err := p.Checkout(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			spans[i].start = time.Now()
			time.Sleep(30 * time.Millisecond)
			spans[i].end = time.Now()
			assert.NoError(t, p.Checkin(context.Background(), ec))
		}()
	}
	wg.Wait()

	a, b := spans[0], spans[1]
	if b.start.Before(a.start) {
		a, b = b, a
	}
	assert.False(t, b.start.Before(a.end), "the second holder started before the first released")
}

func TestCheckoutHonorsCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := newPool(t, newFakeProvisioner(), Options{Size: 1})

	held, err := p.Checkout(t.Context())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(30*time.Millisecond, cancel)
	start := time.Now()
	_, err = p.Checkout(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	require.NoError(t, p.Checkin(t.Context(), held))
	assert.Equal(t, 0, p.Stats().InUse)
}

func TestResetFailureClosesContext(t *testing.T) {
	prov := newFakeProvisioner()
	prov.resetErr = errors.New("storage clear failed")
	p := newPool(t, prov, Options{Size: 1, MaxIdle: 1, ReuseContexts: true})

	ec, err := p.Checkout(t.Context())
	require.NoError(t, err)
	require.NoError(t, p.Checkin(t.Context(), ec))

	assert.Equal(t, session.StateClosed, ec.State())
	assert.Equal(t, 0, p.Stats().Idle)
	assert.Equal(t, 1, p.Stats().Closed)
	assert.Equal(t, 0, prov.liveCount())

	// The slot was still released.
	next, err := p.Checkout(t.Context())
	require.NoError(t, err)
	assert.NotSame(t, ec, next)
	require.NoError(t, p.Checkin(t.Context(), next))
}

func TestNoReuseClosesOnCheckin(t *testing.T) {
	prov := newFakeProvisioner()
	p := newPool(t, prov, Options{Size: 2, MaxIdle: 2, ReuseContexts: false})

	ec, err := p.Checkout(t.Context())
	require.NoError(t, err)
	require.NoError(t, p.Checkin(t.Context(), ec))
	assert.Equal(t, session.StateClosed, ec.State())
	assert.Equal(t, 0, prov.resets)
}

func TestCheckinAfterCancellationStillTearsDown(t *testing.T) {
	prov := newFakeProvisioner()
	p := newPool(t, prov, Options{Size: 1})

	ec, err := p.Checkout(t.Context())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.NoError(t, p.Checkin(ctx, ec))
	assert.Equal(t, 0, prov.liveCount())
}

func TestCheckoutProvisionFailureReleasesSlot(t *testing.T) {
	prov := newFakeProvisioner()
	prov.createErr = errors.New("browser crashed")
	p := newPool(t, prov, Options{Size: 1})

	_, err := p.Checkout(t.Context())
	require.Error(t, err)

	prov.mu.Lock()
	prov.createErr = nil
	prov.mu.Unlock()

	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()
	ec, err := p.Checkout(ctx)
	require.NoError(t, err, "the failed checkout must not keep its slot")
	require.NoError(t, p.Checkin(t.Context(), ec))
}

func TestClose(t *testing.T) {
	prov := newFakeProvisioner()
	p := newPool(t, prov, Options{Size: 2, MaxIdle: 2, ReuseContexts: true})

	idle, err := p.Checkout(t.Context())
	require.NoError(t, err)
	busy, err := p.Checkout(t.Context())
	require.NoError(t, err)
	require.NoError(t, p.Checkin(t.Context(), idle))

	require.NoError(t, p.Close(t.Context()))
	require.NoError(t, p.Close(t.Context()))
	assert.Equal(t, session.StateClosed, idle.State())

	_, err = p.Checkout(t.Context())
	assert.ErrorIs(t, err, ErrPoolClosed)

	// Contexts out at close time are closed, not pooled, on checkin.
	require.NoError(t, p.Checkin(t.Context(), busy))
	assert.Equal(t, session.StateClosed, busy.State())
	assert.Equal(t, 0, prov.liveCount())
}
