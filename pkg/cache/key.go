package cache

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// identityHeaders are the request headers that change what a backend returns.
// Everything else (tracing, user agent, cookies for analytics) is ignored.
var identityHeaders = []string{
	"Accept",
	"Accept-Language",
	"Authorization",
	"Content-Type",
	"X-Cart-Id",
}

// RequestKey identifies a cacheable read request.
type RequestKey struct {
	// Target is the request URL or path
	Target string

	// Method is the HTTP method (defaults to GET)
	Method string

	// Headers are the request headers; only identity headers participate
	Headers http.Header

	// Body is the raw request body
	Body []byte

	// ExtraHeaders are additional header names treated as identity headers
	ExtraHeaders []string
}

// String generates a deterministic cache key string.
// Format: fetch:METHOD:target:h=Name=v1,v2:body=digest
//
// Example:
//
//	fetch:GET:/products/p-1:h=Accept=application/json
func (k RequestKey) String() string {
	method := strings.ToUpper(strings.TrimSpace(k.Method))
	if method == "" {
		method = http.MethodGet
	}

	parts := []string{"fetch", method, k.Target}

	// Add identity headers (sorted for determinism)
	if len(k.Headers) > 0 {
		names := make([]string, 0, len(identityHeaders)+len(k.ExtraHeaders))
		seen := make(map[string]bool)
		for _, name := range append(append([]string{}, identityHeaders...), k.ExtraHeaders...) {
			canonical := http.CanonicalHeaderKey(name)
			if seen[canonical] {
				continue
			}
			seen[canonical] = true
			if values := k.Headers.Values(canonical); len(values) > 0 {
				names = append(names, canonical)
			}
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("h=%s=%s", name, strings.Join(k.Headers.Values(name), ",")))
		}
	}

	if len(k.Body) > 0 {
		parts = append(parts, fmt.Sprintf("body=%016x", xxhash.Sum64(k.Body)))
	}

	return strings.Join(parts, ":")
}
