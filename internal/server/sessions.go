package server

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/storefront-sync/pkg/cache"
	"github.com/Sternrassler/storefront-sync/pkg/lifecycle"
	"github.com/Sternrassler/storefront-sync/pkg/reconcile"
	"github.com/Sternrassler/storefront-sync/pkg/store"
)

// Backend is what a session needs from the commerce backend client.
type Backend interface {
	store.CartClient
	store.URLResolver
}

// Session is the server-side counterpart of one open storefront page: a
// cart, its inventory, the lifecycle bus the page reports into, and the
// reconciler driving them.
type Session struct {
	CartID     string
	Cart       *store.Cart
	Inventory  *store.Inventory
	Bus        *lifecycle.Bus
	Reconciler *reconcile.Reconciler
	CartSync   *reconcile.CartSync

	stopInventory context.CancelFunc
	inventoryDone chan struct{}
}

// Close unmounts the reconciler and stops background work.
func (s *Session) Close() {
	s.Reconciler.Unmount()
	s.CartSync.Stop()
	s.stopInventory()
	<-s.inventoryDone
}

// SessionConfig holds what every new session is built with.
type SessionConfig struct {
	Reconcile reconcile.Config
	Inventory store.InventoryConfig
}

// Sessions is the registry of mounted sessions keyed by cart id.
type Sessions struct {
	backend Backend
	fetcher *cache.Fetcher
	config  SessionConfig
	logger  zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessions creates an empty registry.
func NewSessions(backend Backend, fetcher *cache.Fetcher, cfg SessionConfig) *Sessions {
	return &Sessions{
		backend:  backend,
		fetcher:  fetcher,
		config:   cfg,
		logger:   log.With().Str("component", "sessions").Logger(),
		sessions: make(map[string]*Session),
	}
}

// Mount returns the session for cartID, creating and mounting it if needed.
// created reports whether a new session was mounted.
func (r *Sessions) Mount(ctx context.Context, cartID string) (session *Session, created bool, err error) {
	r.mu.Lock()
	if s, ok := r.sessions[cartID]; ok {
		r.mu.Unlock()
		return s, false, nil
	}

	s := r.newSession(cartID)
	r.sessions[cartID] = s
	sessionsActive.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	s.CartSync.Start()
	if err := s.Reconciler.Mount(ctx); err != nil {
		r.remove(cartID, s)
		s.Close()
		return nil, false, err
	}

	r.logger.Info().Str("cart_id", cartID).Msg("Session mounted")
	return s, true, nil
}

func (r *Sessions) newSession(cartID string) *Session {
	cart := store.NewCart(cartID, r.backend)
	inventory := store.NewInventory(r.fetcher, r.backend, r.config.Inventory)
	bus := lifecycle.NewBus()

	logger := r.logger.With().Str("cart_id", cartID).Logger()
	invCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		inventory.Run(invCtx)
	}()

	return &Session{
		CartID:        cartID,
		Cart:          cart,
		Inventory:     inventory,
		Bus:           bus,
		Reconciler:    reconcile.New(cart, inventory, bus, r.config.Reconcile, &logger),
		CartSync:      reconcile.NewCartSync(cart, inventory),
		stopInventory: stop,
		inventoryDone: done,
	}
}

// Get returns the session for cartID.
func (r *Sessions) Get(cartID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[cartID]
	return s, ok
}

// Unmount closes and forgets the session for cartID.
func (r *Sessions) Unmount(cartID string) bool {
	r.mu.Lock()
	s, ok := r.sessions[cartID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	r.remove(cartID, s)
	s.Close()
	r.logger.Info().Str("cart_id", cartID).Msg("Session unmounted")
	return true
}

// CloseAll unmounts every session.
func (r *Sessions) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	sessionsActive.Set(0)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()

	if len(sessions) > 0 {
		r.logger.Info().Int("sessions", len(sessions)).Msg("All sessions unmounted")
	}
}

// Len returns the number of mounted sessions.
func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Sessions) remove(cartID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[cartID] == s {
		delete(r.sessions, cartID)
	}
	sessionsActive.Set(float64(len(r.sessions)))
}
