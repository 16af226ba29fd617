package store

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/Sternrassler/storefront-sync/pkg/cache"
)

const (
	// DefaultStockTTL keeps stock levels short-lived in the response cache
	DefaultStockTTL = 30 * time.Second

	// DefaultStockConcurrency bounds parallel stock requests per refresh
	DefaultStockConcurrency = 8
)

// URLResolver turns backend paths into absolute URLs. backend.Client implements it.
type URLResolver interface {
	URL(path string) string
}

// InventoryConfig holds inventory configuration.
type InventoryConfig struct {
	StockTTL    time.Duration
	Concurrency int
}

// Stock is the derived availability of one variant.
type Stock struct {
	VariantID string `json:"variant_id"`
	OnHand    int    `json:"on_hand"`
	InCart    int    `json:"in_cart"`
	Available int    `json:"available"`
	Known     bool   `json:"known"`
}

// InventoryView is a point-in-time copy of the derived inventory.
type InventoryView struct {
	Variants    map[string]Stock `json:"variants"`
	Generation  uint64           `json:"generation"`
	RefreshedAt time.Time        `json:"refreshed_at"`
}

// Available returns the available quantity for a variant, 0 when unknown.
func (v InventoryView) Available(variantID string) int {
	return v.Variants[variantID].Available
}

type stockResponse struct {
	VariantID string `json:"variant_id"`
	Available int    `json:"available"`
}

// Inventory tracks stock levels for the variants in a cart and for any
// variants explicitly watched.
//
// ForceRefresh only marks the cached stock stale; the next Refresh drops the
// cached stock documents before fetching. Run performs refreshes in the
// background whenever the inventory is marked stale or sees new variants.
type Inventory struct {
	fetcher *cache.Fetcher
	urls    URLResolver
	config  InventoryConfig
	logger  zerolog.Logger

	refreshMu sync.Mutex
	refreshCh chan struct{}

	mu           sync.RWMutex
	inCart       map[string]int
	watched      map[string]struct{}
	onHand       map[string]int
	generation   uint64
	refreshedGen uint64
	refreshedAt  time.Time
	view         map[string]Stock
}

// NewInventory creates an inventory that loads stock through fetcher.
func NewInventory(fetcher *cache.Fetcher, urls URLResolver, cfg InventoryConfig) *Inventory {
	if cfg.StockTTL <= 0 {
		cfg.StockTTL = DefaultStockTTL
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultStockConcurrency
	}

	return &Inventory{
		fetcher:   fetcher,
		urls:      urls,
		config:    cfg,
		logger:    log.With().Str("component", "inventory").Logger(),
		refreshCh: make(chan struct{}, 1),
		inCart:    make(map[string]int),
		watched:   make(map[string]struct{}),
		onHand:    make(map[string]int),
		view:      make(map[string]Stock),
	}
}

// SyncWithCart records the in-cart quantity of every variant and recomputes
// availability. Duplicate variants are summed.
func (i *Inventory) SyncWithCart(pairs []VariantQuantity) {
	inCart := make(map[string]int, len(pairs))
	for _, p := range pairs {
		inCart[p.VariantID] += p.Quantity
	}

	i.mu.Lock()
	i.inCart = inCart
	unknown := false
	for variantID := range inCart {
		if _, ok := i.onHand[variantID]; !ok {
			unknown = true
			break
		}
	}
	i.recomputeLocked()
	i.mu.Unlock()

	i.logger.Debug().Int("variants", len(inCart)).Msg("Synced with cart")

	if unknown {
		i.signal()
	}
}

// Watch tracks stock for variants that are not necessarily in the cart.
func (i *Inventory) Watch(variantIDs ...string) {
	i.mu.Lock()
	unknown := false
	for _, variantID := range variantIDs {
		if variantID == "" {
			continue
		}
		i.watched[variantID] = struct{}{}
		if _, ok := i.onHand[variantID]; !ok {
			unknown = true
		}
	}
	i.recomputeLocked()
	i.mu.Unlock()

	if unknown {
		i.signal()
	}
}

// ForceRefresh marks the cached stock stale.
func (i *Inventory) ForceRefresh() {
	i.mu.Lock()
	i.generation++
	gen := i.generation
	i.mu.Unlock()

	i.logger.Debug().Uint64("generation", gen).Msg("Stock marked stale")
	i.signal()
}

// Stale reports whether a ForceRefresh has not been followed by a Refresh yet.
func (i *Inventory) Stale() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.generation != i.refreshedGen
}

// Refresh loads stock for every tracked variant.
//
// Stock documents come from the response cache unless the inventory was
// marked stale, in which case they are invalidated first. Variants whose
// stock could not be loaded keep their previous level; the first error is
// returned.
func (i *Inventory) Refresh(ctx context.Context) error {
	i.refreshMu.Lock()
	defer i.refreshMu.Unlock()

	i.mu.RLock()
	gen := i.generation
	stale := gen != i.refreshedGen
	variants := i.trackedLocked()
	i.mu.RUnlock()

	if stale {
		for _, variantID := range variants {
			i.fetcher.Invalidate(ctx, i.stockURL(variantID), cache.FetchOptions{})
		}
	}

	levels := make([]int, len(variants))
	loaded := make([]bool, len(variants))

	p := pool.New().WithMaxGoroutines(i.config.Concurrency).WithErrors().WithContext(ctx)
	for idx, variantID := range variants {
		p.Go(func(ctx context.Context) error {
			resp, err := cache.FetchJSON[stockResponse](ctx, i.fetcher, i.stockURL(variantID), cache.FetchOptions{}, i.config.StockTTL)
			if err != nil {
				return fmt.Errorf("stock for %s: %w", variantID, err)
			}
			levels[idx] = resp.Available
			loaded[idx] = true
			return nil
		})
	}
	err := p.Wait()

	i.mu.Lock()
	for idx, variantID := range variants {
		if loaded[idx] {
			i.onHand[variantID] = levels[idx]
		}
	}
	if err == nil {
		i.refreshedGen = gen
	}
	i.refreshedAt = time.Now()
	i.recomputeLocked()
	i.mu.Unlock()

	if err != nil {
		i.logger.Warn().Err(err).Int("variants", len(variants)).Msg("Stock refresh incomplete")
		return err
	}

	i.logger.Debug().
		Int("variants", len(variants)).
		Bool("forced", stale).
		Msg("Stock refreshed")
	return nil
}

// Run refreshes in the background until ctx is done.
func (i *Inventory) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-i.refreshCh:
			_ = i.Refresh(ctx)
		}
	}
}

// Available returns max(on hand - in cart, 0) for a variant.
func (i *Inventory) Available(variantID string) int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.view[variantID].Available
}

// View returns a copy of the derived inventory.
func (i *Inventory) View() InventoryView {
	i.mu.RLock()
	defer i.mu.RUnlock()

	variants := make(map[string]Stock, len(i.view))
	for k, v := range i.view {
		variants[k] = v
	}
	return InventoryView{
		Variants:    variants,
		Generation:  i.generation,
		RefreshedAt: i.refreshedAt,
	}
}

func (i *Inventory) stockURL(variantID string) string {
	return i.urls.URL("/inventory/" + url.PathEscape(variantID))
}

// signal wakes Run; pending wake-ups coalesce.
func (i *Inventory) signal() {
	select {
	case i.refreshCh <- struct{}{}:
	default:
	}
}

// trackedLocked returns the sorted union of in-cart and watched variants.
func (i *Inventory) trackedLocked() []string {
	variants := make([]string, 0, len(i.inCart)+len(i.watched))
	for variantID := range i.inCart {
		variants = append(variants, variantID)
	}
	for variantID := range i.watched {
		if _, ok := i.inCart[variantID]; !ok {
			variants = append(variants, variantID)
		}
	}
	sort.Strings(variants)
	return variants
}

func (i *Inventory) recomputeLocked() {
	variants := i.trackedLocked()
	view := make(map[string]Stock, len(variants))
	for _, variantID := range variants {
		inCart := i.inCart[variantID]
		onHand, known := i.onHand[variantID]
		view[variantID] = Stock{
			VariantID: variantID,
			OnHand:    onHand,
			InCart:    inCart,
			Available: max(onHand-inCart, 0),
			Known:     known,
		}
	}
	i.view = view
}
