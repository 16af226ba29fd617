// Package testutil provides testing utilities for the storefront services.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock backend endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// CartLine is a cart line item as served by the mock backend.
type CartLine struct {
	ID        string `json:"id"`
	VariantID string `json:"variant_id,omitempty"`
	ProductID string `json:"product_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

// MockBackend is a configurable mock commerce backend for testing.
//
// It serves /carts/{id}, /inventory/{variantId} and /products/{id} from
// in-memory state; any path can be overridden with SetResponse/SetHandler.
type MockBackend struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	carts    map[string][]CartLine
	stock    map[string]int
	products map[string]string

	// Tracking
	requestCount int
	pathCounts   map[string]int
	requestURIs  []string
}

// NewMockBackend creates a new mock backend server.
func NewMockBackend() *MockBackend {
	mock := &MockBackend{
		handlers:   make(map[string]http.HandlerFunc),
		carts:      make(map[string][]CartLine),
		stock:      make(map[string]int),
		products:   make(map[string]string),
		pathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.pathCounts[r.URL.Path]++
		mock.requestURIs = append(mock.requestURIs, r.RequestURI)
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockBackend) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockBackend) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.pathCounts = make(map[string]int)
	m.requestURIs = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockBackend) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockBackend) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetCart sets the line items served for a cart id.
func (m *MockBackend) SetCart(cartID string, lines ...CartLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[cartID] = append([]CartLine(nil), lines...)
}

// SetStock sets the stock level served for a variant.
func (m *MockBackend) SetStock(variantID string, quantity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[variantID] = quantity
}

// SetProduct sets the raw JSON served for a product id.
func (m *MockBackend) SetProduct(productID, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[productID] = body
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockBackend) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// GetPathCount returns the number of requests made to path.
func (m *MockBackend) GetPathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// RequestURIs returns the raw request URIs received, in order, as sent on
// the wire (escaping intact).
func (m *MockBackend) RequestURIs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.requestURIs...)
}

// defaultHandler serves carts, inventory and products from mock state.
func (m *MockBackend) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	resource, id, _ := strings.Cut(strings.Trim(r.URL.Path, "/"), "/")

	m.mu.RLock()
	defer m.mu.RUnlock()

	switch resource {
	case "carts":
		lines, ok := m.carts[id]
		if !ok {
			writeNotFound(w, "cart")
			return
		}
		writeJSON(w, map[string]any{"id": id, "items": lines})
	case "inventory":
		qty, ok := m.stock[id]
		if !ok {
			writeNotFound(w, "variant")
			return
		}
		writeJSON(w, map[string]any{"variant_id": id, "available": qty})
	case "products":
		body, ok := m.products[id]
		if !ok {
			writeNotFound(w, "product")
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	default:
		writeNotFound(w, "route")
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func writeNotFound(w http.ResponseWriter, what string) {
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprintf(w, `{"error": "%s not found"}`, what)
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "Not found"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewJSONResponse creates a 200 OK response with a JSON body.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
