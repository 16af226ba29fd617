package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Sternrassler/storefront-sync/internal/testutil"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			config:      DefaultConfig("https://backend.example.com/api", "Storefront/1.0.0"),
			expectError: false,
		},
		{
			name:        "missing base url",
			config:      Config{UserAgent: "Storefront/1.0.0"},
			expectError: true,
			errorMsg:    "base url is required",
		},
		{
			name:        "relative base url",
			config:      Config{BaseURL: "/api", UserAgent: "Storefront/1.0.0"},
			expectError: true,
			errorMsg:    `base url must be absolute (got "/api")`,
		},
		{
			name:        "empty user agent",
			config:      Config{BaseURL: "https://backend.example.com"},
			expectError: true,
			errorMsg:    "user-agent is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got nil")
					return
				}
				if tt.errorMsg != "" && err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
				return
			}

			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if client == nil {
				t.Error("Expected client but got nil")
			}
		})
	}
}

func TestClient_URL(t *testing.T) {
	client, err := New(DefaultConfig("https://backend.example.com/api/", "Storefront/1.0.0"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if got := client.URL("/carts/c-1"); got != "https://backend.example.com/api/carts/c-1" {
		t.Errorf("URL() = %s", got)
	}
	if got := client.URL("inventory/v-1"); got != "https://backend.example.com/api/inventory/v-1" {
		t.Errorf("URL() = %s", got)
	}
}

func TestClient_DoSetsHeaders(t *testing.T) {
	var gotUA, gotAccept, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := DefaultConfig(server.URL, "Storefront/1.0.0 (ops@example.com)")
	cfg.APIToken = "secret-token"
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, client.URL("/products/p-1"), nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()

	if gotUA != "Storefront/1.0.0 (ops@example.com)" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q", gotAccept)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestClient_DoReturnsErrorStatusAsResponse(t *testing.T) {
	mock := testutil.NewMockBackend()
	defer mock.Close()
	mock.SetResponse("/products/broken", testutil.NewServerErrorResponse())

	client, err := New(DefaultConfig(mock.URL(), "Storefront/1.0.0"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, client.URL("/products/broken"), nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do returned error for HTTP 500: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", resp.StatusCode)
	}
}

func TestClient_DoNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client, err := New(DefaultConfig(url, "Storefront/1.0.0"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, client.URL("/carts/c-1"), nil)
	_, err = client.Do(req)

	var backendErr *Error
	if !errors.As(err, &backendErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if backendErr.ErrorClass != ErrorClassNetwork {
		t.Errorf("ErrorClass = %s, want network", backendErr.ErrorClass)
	}
	if !Retryable(err) {
		t.Error("network error should be retryable")
	}
}

func TestClient_GetJSON(t *testing.T) {
	mock := testutil.NewMockBackend()
	defer mock.Close()
	mock.SetCart("c-1",
		testutil.CartLine{ID: "l1", VariantID: "v1", Quantity: 2},
	)

	client, err := New(DefaultConfig(mock.URL(), "Storefront/1.0.0"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var cart struct {
		ID    string `json:"id"`
		Items []struct {
			VariantID string `json:"variant_id"`
			Quantity  int    `json:"quantity"`
		} `json:"items"`
	}
	if err := client.GetJSON(ctx, "/carts/c-1", &cart); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}

	if cart.ID != "c-1" || len(cart.Items) != 1 || cart.Items[0].VariantID != "v1" || cart.Items[0].Quantity != 2 {
		t.Errorf("decoded cart = %+v", cart)
	}
}

func TestClient_GetJSONErrorStatus(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		resp      testutil.MockResponse
		wantClass ErrorClass
		wantRetry bool
	}{
		{
			name:      "not found",
			path:      "/carts/missing",
			resp:      testutil.NewNotFoundResponse(),
			wantClass: ErrorClassClient,
			wantRetry: false,
		},
		{
			name:      "server error",
			path:      "/carts/broken",
			resp:      testutil.NewServerErrorResponse(),
			wantClass: ErrorClassServer,
			wantRetry: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockBackend()
			defer mock.Close()
			mock.SetResponse(tt.path, tt.resp)

			client, err := New(DefaultConfig(mock.URL(), "Storefront/1.0.0"))
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}

			var out map[string]any
			err = client.GetJSON(context.Background(), tt.path, &out)

			var backendErr *Error
			if !errors.As(err, &backendErr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if backendErr.ErrorClass != tt.wantClass {
				t.Errorf("ErrorClass = %s, want %s", backendErr.ErrorClass, tt.wantClass)
			}
			if len(backendErr.Body) == 0 {
				t.Error("error body not captured")
			}
			if Retryable(err) != tt.wantRetry {
				t.Errorf("Retryable = %v, want %v", Retryable(err), tt.wantRetry)
			}
		})
	}
}

func TestEndpointLabel(t *testing.T) {
	tests := map[string]string{
		"":                  "/",
		"/":                 "/",
		"/carts/c-123":      "/carts",
		"/inventory/v-1/":   "/inventory",
		"/products":         "/products",
		"api/products/p-1/": "/api",
	}

	for in, want := range tests {
		if got := endpointLabel(in); got != want {
			t.Errorf("endpointLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
