package reconcile

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/storefront-sync/pkg/store"
)

// VariantQuantities returns the variant/quantity pairs of items in order,
// skipping items without a variant id.
func VariantQuantities(items []store.LineItem) []store.VariantQuantity {
	pairs := make([]store.VariantQuantity, 0, len(items))
	for _, item := range items {
		if item.VariantID == "" {
			continue
		}
		pairs = append(pairs, store.VariantQuantity{
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		})
	}
	return pairs
}

// CartWatcher publishes cart snapshots. store.Cart implements it.
type CartWatcher interface {
	Items() []store.LineItem
	OnChange(fn func([]store.LineItem)) func()
}

// CartSync forwards every cart snapshot to the inventory.
type CartSync struct {
	cart      CartWatcher
	inventory InventorySink
	logger    zerolog.Logger

	mu          sync.Mutex
	unsubscribe func()

	syncMu sync.Mutex
	synced bool
}

// NewCartSync creates a CartSync. It does nothing until Start.
func NewCartSync(cart CartWatcher, inventory InventorySink) *CartSync {
	return &CartSync{
		cart:      cart,
		inventory: inventory,
		logger:    log.With().Str("component", "cart-sync").Logger(),
	}
}

// Start syncs the current items and then every new snapshot.
// Calling Start on a running CartSync is a no-op.
func (s *CartSync) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		return
	}

	s.syncMu.Lock()
	s.synced = false
	s.syncMu.Unlock()

	// Subscribe before reading the current items so no snapshot is missed.
	s.unsubscribe = s.cart.OnChange(s.onChange)

	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	if !s.synced {
		s.syncLocked(s.cart.Items())
	}
}

// Stop stops forwarding snapshots.
func (s *CartSync) Stop() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (s *CartSync) onChange(items []store.LineItem) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	s.syncLocked(items)
}

func (s *CartSync) syncLocked(items []store.LineItem) {
	s.synced = true

	pairs := VariantQuantities(items)
	s.inventory.SyncWithCart(pairs)
	cartSyncsTotal.Inc()

	if dropped := len(items) - len(pairs); dropped > 0 {
		s.logger.Debug().Int("dropped", dropped).Msg("Cart items without variant skipped")
	}
}
