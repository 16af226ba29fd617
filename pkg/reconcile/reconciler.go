// Package reconcile keeps a session's cart and inventory in step with the
// commerce backend.
//
// A Reconciler loads the cart once when mounted and again whenever the user
// returns to the page: history navigation, focus regained, or the page
// becoming visible. Each of those passes reloads the cart and then forces an
// inventory refresh. CartSync forwards every new cart snapshot to the
// inventory as variant/quantity pairs.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Sternrassler/storefront-sync/pkg/backend"
	"github.com/Sternrassler/storefront-sync/pkg/lifecycle"
	"github.com/Sternrassler/storefront-sync/pkg/store"
)

var (
	// ErrAlreadyMounted is returned by a second Mount.
	ErrAlreadyMounted = errors.New("reconciler already mounted")

	// ErrUnmounted is returned by Mount after Unmount.
	ErrUnmounted = errors.New("reconciler unmounted")
)

// TriggerMount labels the initial pass.
const TriggerMount = "mount"

var tracer = otel.Tracer("github.com/Sternrassler/storefront-sync/pkg/reconcile")

// CartSource is the cart being reconciled.
type CartSource interface {
	FetchCart(ctx context.Context) error
	Items() []store.LineItem
}

// InventorySink receives refresh requests and cart quantities.
type InventorySink interface {
	ForceRefresh()
	SyncWithCart(pairs []store.VariantQuantity)
}

// Signals delivers lifecycle events. lifecycle.Bus implements it.
type Signals interface {
	Subscribe(kind lifecycle.Kind, h lifecycle.Handler) func()
}

// State is the reconciler activity state.
type State int32

const (
	Idle State = iota
	Reconciling
)

func (s State) String() string {
	if s == Reconciling {
		return "reconciling"
	}
	return "idle"
}

// Config holds reconciler configuration.
type Config struct {
	// Retry applies to failed cart fetches within a pass
	Retry RetryConfig

	// PassTimeout bounds a whole pass including retries (0 = none)
	PassTimeout time.Duration

	// Retryable decides which fetch errors are retried (default: backend.Retryable)
	Retryable func(error) bool
}

// Reconciler runs reconciliation passes for one session.
//
// Passes run on their own goroutines. Starting a pass cancels the one in
// flight, and a pass that is no longer the latest when its cart fetch
// returns does not refresh inventory.
type Reconciler struct {
	cart      CartSource
	inventory InventorySink
	signals   Signals
	config    Config
	logger    zerolog.Logger

	mu         sync.Mutex
	mounted    bool
	closed     bool
	seq        uint64
	cancelPass context.CancelFunc
	baseCtx    context.Context
	baseCancel context.CancelFunc
	disposer   lifecycle.Disposer
	wg         sync.WaitGroup

	active atomic.Int32
}

// New creates a reconciler. A nil logger uses the global logger.
func New(cart CartSource, inventory InventorySink, signals Signals, cfg Config, logger *zerolog.Logger) *Reconciler {
	if cfg.Retryable == nil {
		cfg.Retryable = backend.Retryable
	}
	l := log.With().Str("component", "reconciler").Logger()
	if logger != nil {
		l = logger.With().Str("component", "reconciler").Logger()
	}

	return &Reconciler{
		cart:      cart,
		inventory: inventory,
		signals:   signals,
		config:    cfg,
		logger:    l,
	}
}

// Mount subscribes to the lifecycle signals and runs the initial pass,
// which reloads the cart without refreshing inventory. It returns once the
// initial pass is done or ctx ends. Passes outlive ctx; Unmount ends them.
func (r *Reconciler) Mount(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrUnmounted
	}
	if r.mounted {
		r.mu.Unlock()
		return ErrAlreadyMounted
	}
	r.mounted = true
	r.baseCtx, r.baseCancel = context.WithCancel(context.WithoutCancel(ctx))
	r.mu.Unlock()

	for _, kind := range lifecycle.Kinds {
		r.disposer.Add(r.signals.Subscribe(kind, r.handle))
	}

	r.logger.Info().Msg("Reconciler mounted")

	done := r.startPass(TriggerMount, false)
	select {
	case <-done:
	case <-ctx.Done():
	}
	return nil
}

// Unmount releases every subscription, cancels the pass in flight and waits
// for pass goroutines to return. It is idempotent.
func (r *Reconciler) Unmount() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	baseCancel := r.baseCancel
	r.mu.Unlock()

	r.disposer.Dispose()
	if baseCancel != nil {
		baseCancel()
	}
	r.wg.Wait()

	r.logger.Info().Msg("Reconciler unmounted")
}

// Wait blocks until every started pass has returned.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

// State reports whether a pass is running.
func (r *Reconciler) State() State {
	if r.active.Load() > 0 {
		return Reconciling
	}
	return Idle
}

func (r *Reconciler) handle(e lifecycle.Event) {
	if !e.Resumed() {
		return
	}
	r.startPass(string(e.Kind), true)
}

// startPass launches a pass and returns a channel closed when it finishes.
func (r *Reconciler) startPass(trigger string, refresh bool) <-chan struct{} {
	done := make(chan struct{})

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		close(done)
		return done
	}
	r.seq++
	seq := r.seq
	if r.cancelPass != nil {
		r.cancelPass()
	}
	var ctx context.Context
	var cancel context.CancelFunc
	if r.config.PassTimeout > 0 {
		ctx, cancel = context.WithTimeout(r.baseCtx, r.config.PassTimeout)
	} else {
		ctx, cancel = context.WithCancel(r.baseCtx)
	}
	r.cancelPass = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer close(done)
		defer cancel()
		r.runPass(ctx, seq, trigger, refresh)
	}()
	return done
}

func (r *Reconciler) runPass(ctx context.Context, seq uint64, trigger string, refresh bool) {
	r.active.Add(1)
	defer r.active.Add(-1)

	start := time.Now()
	logger := r.logger.With().Str("trigger", trigger).Uint64("pass", seq).Logger()

	ctx, span := tracer.Start(ctx, "reconcile.pass")
	defer span.End()

	err := retryWithBackoff(ctx, r.config.Retry, logger, r.config.Retryable, r.cart.FetchCart)

	outcome := r.outcome(seq, err)
	span.SetAttributes(
		attribute.String("reconcile.trigger", trigger),
		attribute.Int64("reconcile.pass", int64(seq)),
		attribute.String("reconcile.outcome", outcome),
	)
	if err != nil {
		span.RecordError(err)
	}
	if outcome == OutcomeFailed {
		span.SetStatus(codes.Error, "cart fetch failed")
	}
	switch outcome {
	case OutcomeOK:
		if refresh {
			r.inventory.ForceRefresh()
		}
		logger.Debug().Bool("refresh", refresh).Msg("Reconciliation pass complete")
	case OutcomeFailed:
		logger.Warn().Err(err).Msg("Reconciliation pass failed")
	default:
		logger.Debug().Str("outcome", outcome).Msg("Reconciliation pass dropped")
	}

	passesTotal.WithLabelValues(trigger, outcome).Inc()
	passDuration.Observe(time.Since(start).Seconds())
}

// outcome classifies a finished pass. Only the latest pass of a mounted
// reconciler may touch inventory.
func (r *Reconciler) outcome(seq uint64, err error) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.closed:
		return OutcomeCancelled
	case seq != r.seq:
		return OutcomeSuperseded
	case err != nil:
		return OutcomeFailed
	default:
		return OutcomeOK
	}
}
