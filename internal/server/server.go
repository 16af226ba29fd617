// Package server exposes the storefront sync service over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/iter"

	"github.com/Sternrassler/storefront-sync/pkg/cache"
	"github.com/Sternrassler/storefront-sync/pkg/lifecycle"
	"github.com/Sternrassler/storefront-sync/pkg/logging"
	"github.com/Sternrassler/storefront-sync/pkg/metrics"
	"github.com/Sternrassler/storefront-sync/pkg/store"
)

// Config holds server configuration.
type Config struct {
	// ProductTTL is the cache freshness of product documents
	ProductTTL time.Duration

	Sessions SessionConfig
}

// Server routes storefront requests.
type Server struct {
	backend  Backend
	fetcher  *cache.Fetcher
	sessions *Sessions
	config   Config
	logger   zerolog.Logger
	handler  http.Handler
}

// New creates a server. Product reads and stock levels go through fetcher.
func New(backend Backend, fetcher *cache.Fetcher, cfg Config) *Server {
	if cfg.ProductTTL <= 0 {
		cfg.ProductTTL = cache.DefaultTTL
	}

	s := &Server{
		backend:  backend,
		fetcher:  fetcher,
		sessions: NewSessions(backend, fetcher, cfg.Sessions),
		config:   cfg,
		logger:   log.With().Str("component", "server").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/products/{id}", s.handleProduct)
	mux.HandleFunc("POST /api/sessions/{cartId}", s.handleMount)
	mux.HandleFunc("DELETE /api/sessions/{cartId}", s.handleUnmount)
	mux.HandleFunc("POST /api/sessions/{cartId}/events", s.handleEvent)
	mux.HandleFunc("GET /api/sessions/{cartId}/inventory", s.handleInventory)
	mux.HandleFunc("GET /api/sessions/{cartId}/products", s.handleSortedProducts)
	mux.HandleFunc("POST /api/cache/clear", s.handleCacheClear)

	s.handler = withRequestLogging(s.logger, mux)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Sessions returns the session registry.
func (s *Server) Sessions() *Sessions {
	return s.sessions
}

// Close unmounts every session.
func (s *Server) Close() {
	s.sessions.CloseAll()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	payload, err := s.fetchProduct(r, r.PathValue("id"))
	if err != nil {
		s.writeFetchError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// fetchProduct reads a product through the cache. The id is escaped as a
// single path segment. Accept-Language is forwarded and therefore part of
// the cache key.
func (s *Server) fetchProduct(r *http.Request, id string) (json.RawMessage, error) {
	opts := cache.FetchOptions{Headers: http.Header{}}
	if lang := r.Header.Get("Accept-Language"); lang != "" {
		opts.Headers.Set("Accept-Language", lang)
	}
	return s.fetcher.Fetch(r.Context(), s.backend.URL("/products/"+url.PathEscape(id)), opts, s.config.ProductTTL)
}

type sessionResponse struct {
	CartID    string              `json:"cart_id"`
	Version   uint64              `json:"version"`
	Items     []store.LineItem    `json:"items"`
	State     string              `json:"state"`
	Inventory store.InventoryView `json:"inventory"`
}

func (s *Server) sessionBody(session *Session) sessionResponse {
	return sessionResponse{
		CartID:    session.CartID,
		Version:   session.Cart.Version(),
		Items:     session.Cart.Items(),
		State:     session.Reconciler.State().String(),
		Inventory: session.Inventory.View(),
	}
}

func (s *Server) handleMount(w http.ResponseWriter, r *http.Request) {
	session, created, err := s.sessions.Mount(r.Context(), r.PathValue("cartId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, s.sessionBody(session))
}

func (s *Server) handleUnmount(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Unmount(r.PathValue("cartId")) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type eventRequest struct {
	Event  string `json:"event"`
	Hidden bool   `json:"hidden"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessions.Get(r.PathValue("cartId"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event body")
		return
	}
	kind, err := lifecycle.ParseKind(req.Event)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	event := lifecycle.Event{Kind: kind, Hidden: req.Hidden}
	delivered := session.Bus.Emit(event)
	lifecycleEventsTotal.WithLabelValues(string(kind)).Inc()

	logging.FromContext(r.Context()).Debug().
		Str("cart_id", session.CartID).
		Str("kind", string(kind)).
		Bool("hidden", req.Hidden).
		Int("delivered", delivered).
		Msg("Lifecycle event emitted")

	writeJSON(w, http.StatusAccepted, map[string]any{
		"delivered": delivered,
		"resumed":   event.Resumed(),
	})
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessions.Get(r.PathValue("cartId"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	if session.Inventory.Stale() || r.URL.Query().Get("refresh") == "true" {
		if err := session.Inventory.Refresh(r.Context()); err != nil {
			w.Header().Set("Warning", `199 - "stock refresh incomplete"`)
		}
	}

	writeJSON(w, http.StatusOK, s.sessionBody(session))
}

// handleSortedProducts loads the products named in ?ids= and returns them
// ordered by availability for the session's cart.
func (s *Server) handleSortedProducts(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessions.Get(r.PathValue("cartId"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "ids query parameter is required")
		return
	}

	type result struct {
		product store.Product
		err     error
	}
	results := iter.Map(ids, func(id *string) result {
		payload, err := s.fetchProduct(r, *id)
		if err != nil {
			return result{err: err}
		}
		var p store.Product
		if err := json.Unmarshal(payload, &p); err != nil {
			return result{err: fmt.Errorf("decode product %s: %w", *id, err)}
		}
		if p.ID == "" {
			p.ID = *id
		}
		return result{product: p}
	})

	products := make([]store.Product, 0, len(results))
	for _, res := range results {
		if res.err != nil {
			s.writeFetchError(w, r, res.err)
			return
		}
		products = append(products, res.product)
		session.Inventory.Watch(res.product.VariantIDs...)
	}

	if err := session.Inventory.Refresh(r.Context()); err != nil {
		w.Header().Set("Warning", `199 - "stock refresh incomplete"`)
	}

	view := session.Inventory.View()
	store.SortByAvailability(products, view)
	writeJSON(w, http.StatusOK, map[string]any{
		"products":  products,
		"inventory": view,
	})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.fetcher.Cache().Clear(r.Context())
	logging.FromContext(r.Context()).Info().Msg("Response cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

// writeFetchError relays backend error statuses and maps transport
// failures to 502.
func (s *Server) writeFetchError(w http.ResponseWriter, r *http.Request, err error) {
	var statusErr *cache.StatusError
	if errors.As(err, &statusErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusErr.StatusCode)
		w.Write(statusErr.Body)
		return
	}

	logging.FromContext(r.Context()).Warn().Err(err).Msg("Backend fetch failed")
	writeError(w, http.StatusBadGateway, "backend request failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
