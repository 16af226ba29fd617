package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/storefront-sync/pkg/backend"
	"github.com/Sternrassler/storefront-sync/pkg/lifecycle"
	"github.com/Sternrassler/storefront-sync/pkg/store"
)

// fakeCart counts FetchCart calls. Queued errors are returned in order;
// while hold is set, calls block until their context ends or hold is closed.
type fakeCart struct {
	mu    sync.Mutex
	calls int
	errs  []error
	hold  chan struct{}
	items []store.LineItem
}

func (c *fakeCart) FetchCart(ctx context.Context) error {
	c.mu.Lock()
	c.calls++
	hold := c.hold
	c.hold = nil
	var err error
	if len(c.errs) > 0 {
		err, c.errs = c.errs[0], c.errs[1:]
	}
	c.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (c *fakeCart) Items() []store.LineItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items
}

func (c *fakeCart) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeInventory struct {
	mu        sync.Mutex
	refreshes int
	syncs     [][]store.VariantQuantity
}

func (i *fakeInventory) ForceRefresh() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.refreshes++
}

func (i *fakeInventory) SyncWithCart(pairs []store.VariantQuantity) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.syncs = append(i.syncs, pairs)
}

func (i *fakeInventory) Refreshes() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.refreshes
}

func (i *fakeInventory) Syncs() [][]store.VariantQuantity {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([][]store.VariantQuantity(nil), i.syncs...)
}

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func newTestReconciler(t *testing.T, cart *fakeCart) (*Reconciler, *fakeInventory, *lifecycle.Bus) {
	t.Helper()

	inv := &fakeInventory{}
	bus := lifecycle.NewBus()
	r := New(cart, inv, bus, Config{Retry: fastRetry()}, nil)
	t.Cleanup(r.Unmount)
	return r, inv, bus
}

func TestMount_FetchesCartOnce(t *testing.T) {
	cart := &fakeCart{}
	r, inv, bus := newTestReconciler(t, cart)

	require.NoError(t, r.Mount(context.Background()))
	r.Wait()

	assert.Equal(t, 1, cart.Calls())
	assert.Equal(t, 0, inv.Refreshes())
	for _, kind := range lifecycle.Kinds {
		assert.Equal(t, 1, bus.Subscribers(kind), "subscribed to %s", kind)
	}
}

func TestMount_Twice(t *testing.T) {
	r, _, _ := newTestReconciler(t, &fakeCart{})

	require.NoError(t, r.Mount(context.Background()))
	assert.ErrorIs(t, r.Mount(context.Background()), ErrAlreadyMounted)
}

func TestMount_AfterUnmount(t *testing.T) {
	r, _, _ := newTestReconciler(t, &fakeCart{})

	r.Unmount()
	assert.ErrorIs(t, r.Mount(context.Background()), ErrUnmounted)
}

func TestResumeSignalsRunFullPass(t *testing.T) {
	tests := []struct {
		name  string
		event lifecycle.Event
	}{
		{name: "focus", event: lifecycle.Event{Kind: lifecycle.Focus}},
		{name: "visible", event: lifecycle.Event{Kind: lifecycle.Visibility, Hidden: false}},
		{name: "popstate", event: lifecycle.Event{Kind: lifecycle.Navigation}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cart := &fakeCart{}
			r, inv, bus := newTestReconciler(t, cart)
			require.NoError(t, r.Mount(context.Background()))
			r.Wait()

			assert.Equal(t, 1, bus.Emit(tt.event))
			r.Wait()

			assert.Equal(t, 2, cart.Calls(), "one fetch beyond the mount fetch")
			assert.Equal(t, 1, inv.Refreshes())
		})
	}
}

func TestHiddenVisibilityDoesNothing(t *testing.T) {
	cart := &fakeCart{}
	r, inv, bus := newTestReconciler(t, cart)
	require.NoError(t, r.Mount(context.Background()))
	r.Wait()

	bus.Emit(lifecycle.Event{Kind: lifecycle.Visibility, Hidden: true})
	r.Wait()

	assert.Equal(t, 1, cart.Calls())
	assert.Equal(t, 0, inv.Refreshes())
}

func TestUnmountStopsPasses(t *testing.T) {
	cart := &fakeCart{}
	r, inv, bus := newTestReconciler(t, cart)
	require.NoError(t, r.Mount(context.Background()))
	r.Wait()

	r.Unmount()
	r.Unmount()

	for _, kind := range lifecycle.Kinds {
		assert.Equal(t, 0, bus.Subscribers(kind))
		bus.Emit(lifecycle.Event{Kind: kind})
	}
	r.Wait()

	assert.Equal(t, 1, cart.Calls())
	assert.Equal(t, 0, inv.Refreshes())
}

func TestUnmountCancelsPassInFlight(t *testing.T) {
	cart := &fakeCart{}
	r, inv, bus := newTestReconciler(t, cart)
	require.NoError(t, r.Mount(context.Background()))
	r.Wait()

	cart.mu.Lock()
	cart.hold = make(chan struct{})
	cart.mu.Unlock()

	bus.Emit(lifecycle.Event{Kind: lifecycle.Focus})
	require.Eventually(t, func() bool { return cart.Calls() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, Reconciling, r.State())

	r.Unmount()

	assert.Equal(t, Idle, r.State())
	assert.Equal(t, 0, inv.Refreshes())
}

func TestLatestPassWins(t *testing.T) {
	cart := &fakeCart{}
	r, inv, bus := newTestReconciler(t, cart)
	require.NoError(t, r.Mount(context.Background()))
	r.Wait()

	cart.mu.Lock()
	cart.hold = make(chan struct{})
	cart.mu.Unlock()

	bus.Emit(lifecycle.Event{Kind: lifecycle.Focus})
	require.Eventually(t, func() bool { return cart.Calls() == 2 }, time.Second, time.Millisecond)

	bus.Emit(lifecycle.Event{Kind: lifecycle.Navigation})
	r.Wait()

	assert.Equal(t, 3, cart.Calls())
	assert.Equal(t, 1, inv.Refreshes(), "superseded pass must not refresh inventory")
}

func TestFailedPassIsRetried(t *testing.T) {
	serverErr := &backend.Error{StatusCode: 503, ErrorClass: backend.ErrorClassServer, Message: "unavailable"}
	cart := &fakeCart{}
	r, inv, bus := newTestReconciler(t, cart)
	require.NoError(t, r.Mount(context.Background()))
	r.Wait()

	cart.mu.Lock()
	cart.errs = []error{serverErr, serverErr}
	cart.mu.Unlock()

	bus.Emit(lifecycle.Event{Kind: lifecycle.Focus})
	r.Wait()

	assert.Equal(t, 4, cart.Calls(), "mount plus three attempts")
	assert.Equal(t, 1, inv.Refreshes())
}

func TestFailedPassSkipsRefresh(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
	}{
		{
			name:      "client error is not retried",
			errs:      []error{&backend.Error{StatusCode: 404, ErrorClass: backend.ErrorClassClient}},
			wantCalls: 2,
		},
		{
			name: "retries exhausted",
			errs: []error{
				&backend.Error{ErrorClass: backend.ErrorClassNetwork, Err: errors.New("reset")},
				&backend.Error{ErrorClass: backend.ErrorClassNetwork, Err: errors.New("reset")},
				&backend.Error{ErrorClass: backend.ErrorClassNetwork, Err: errors.New("reset")},
			},
			wantCalls: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cart := &fakeCart{}
			r, inv, bus := newTestReconciler(t, cart)
			require.NoError(t, r.Mount(context.Background()))
			r.Wait()

			cart.mu.Lock()
			cart.errs = tt.errs
			cart.mu.Unlock()

			bus.Emit(lifecycle.Event{Kind: lifecycle.Navigation})
			r.Wait()

			assert.Equal(t, tt.wantCalls, cart.Calls())
			assert.Equal(t, 0, inv.Refreshes())
		})
	}
}

func TestMountFailureIsNotReturned(t *testing.T) {
	cart := &fakeCart{errs: []error{&backend.Error{StatusCode: 404, ErrorClass: backend.ErrorClassClient}}}
	r, _, _ := newTestReconciler(t, cart)

	assert.NoError(t, r.Mount(context.Background()))
	assert.Equal(t, 1, cart.Calls())
}

func TestPassTimeout(t *testing.T) {
	cart := &fakeCart{hold: make(chan struct{})}
	inv := &fakeInventory{}
	bus := lifecycle.NewBus()
	r := New(cart, inv, bus, Config{Retry: fastRetry(), PassTimeout: 20 * time.Millisecond}, nil)
	defer r.Unmount()

	start := time.Now()
	require.NoError(t, r.Mount(context.Background()))

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, cart.Calls())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "reconciling", Reconciling.String())
}
