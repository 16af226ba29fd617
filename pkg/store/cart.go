// Package store holds the per-session cart and inventory state that the
// reconciler keeps in step with the commerce backend.
package store

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LineItem is one cart line. VariantID is empty for lines the backend could
// not resolve to a purchasable variant.
type LineItem struct {
	ID        string `json:"id"`
	VariantID string `json:"variant_id,omitempty"`
	ProductID string `json:"product_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

// VariantQuantity is the quantity of one variant held in the cart.
type VariantQuantity struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// CartClient loads JSON documents from the backend. backend.Client implements it.
type CartClient interface {
	GetJSON(ctx context.Context, path string, out any) error
}

type cartResponse struct {
	ID    string     `json:"id"`
	Items []LineItem `json:"items"`
}

// Cart is the authoritative snapshot of one cart.
//
// Every applied snapshot bumps Version, so observers can tell a new item
// list from the one they already saw even when the contents are equal.
type Cart struct {
	id     string
	client CartClient
	logger zerolog.Logger

	mu        sync.RWMutex
	items     []LineItem
	version   uint64
	listeners map[uint64]func([]LineItem)
	nextID    uint64
}

// NewCart creates an empty cart bound to cartID.
func NewCart(cartID string, client CartClient) *Cart {
	return &Cart{
		id:        cartID,
		client:    client,
		logger:    log.With().Str("component", "cart").Str("cart_id", cartID).Logger(),
		listeners: make(map[uint64]func([]LineItem)),
	}
}

// ID returns the cart id.
func (c *Cart) ID() string {
	return c.id
}

// FetchCart reloads the cart from the backend and applies it.
//
// Carts are never read through the response cache. A fetch whose context is
// done by the time the response arrives is discarded.
func (c *Cart) FetchCart(ctx context.Context) error {
	var resp cartResponse
	if err := c.client.GetJSON(ctx, "/carts/"+url.PathEscape(c.id), &resp); err != nil {
		return fmt.Errorf("fetch cart %s: %w", c.id, err)
	}

	if err := ctx.Err(); err != nil {
		c.logger.Debug().Msg("Discarding cart snapshot from cancelled fetch")
		return err
	}

	c.apply(resp.Items)
	return nil
}

// SetItems replaces the cart contents locally (optimistic updates, tests).
func (c *Cart) SetItems(items []LineItem) {
	c.apply(items)
}

// Items returns a copy of the current line items.
func (c *Cart) Items() []LineItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]LineItem(nil), c.items...)
}

// Version increments once per applied snapshot.
func (c *Cart) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// OnChange registers fn to receive every applied snapshot and returns the
// function that unregisters it.
func (c *Cart) OnChange(fn func([]LineItem)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Cart) apply(items []LineItem) {
	snapshot := append([]LineItem(nil), items...)

	c.mu.Lock()
	c.items = snapshot
	c.version++
	version := c.version
	listeners := make([]func([]LineItem), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	c.logger.Debug().
		Int("items", len(snapshot)).
		Uint64("version", version).
		Msg("Cart snapshot applied")

	for _, fn := range listeners {
		fn(append([]LineItem(nil), snapshot...))
	}
}
