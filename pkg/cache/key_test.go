package cache

import (
	"net/http"
	"testing"
)

func TestRequestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  RequestKey
		want string
	}{
		{
			name: "target only defaults to GET",
			key: RequestKey{
				Target: "/products/p-1",
			},
			want: "fetch:GET:/products/p-1",
		},
		{
			name: "method is upper-cased",
			key: RequestKey{
				Target: "/products/p-1",
				Method: "get",
			},
			want: "fetch:GET:/products/p-1",
		},
		{
			name: "identity headers sorted",
			key: RequestKey{
				Target: "/products",
				Headers: http.Header{
					"Accept-Language": []string{"de"},
					"Accept":          []string{"application/json"},
				},
			},
			want: "fetch:GET:/products:h=Accept=application/json:h=Accept-Language=de",
		},
		{
			name: "non identity headers ignored",
			key: RequestKey{
				Target: "/products",
				Headers: http.Header{
					"Traceparent": []string{"00-abc"},
					"User-Agent":  []string{"storefront/1"},
				},
			},
			want: "fetch:GET:/products",
		},
		{
			name: "extra identity header",
			key: RequestKey{
				Target:       "/products",
				Headers:      http.Header{"X-Market": []string{"eu"}},
				ExtraHeaders: []string{"x-market"},
			},
			want: "fetch:GET:/products:h=X-Market=eu",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.key.String()
			if got != tt.want {
				t.Errorf("RequestKey.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestRequestKey_Determinism ensures same input always produces same key
func TestRequestKey_Determinism(t *testing.T) {
	key := RequestKey{
		Target: "/search",
		Method: "POST",
		Headers: http.Header{
			"Content-Type":    []string{"application/json"},
			"Accept-Language": []string{"en"},
			"Accept":          []string{"application/json"},
		},
		Body: []byte(`{"query":"shoes","page":1}`),
	}

	first := key.String()
	for i := 0; i < 10; i++ {
		if got := key.String(); got != first {
			t.Errorf("result[%d] = %v, want %v (not deterministic)", i, got, first)
		}
	}
}

func TestRequestKey_Sensitivity(t *testing.T) {
	get := RequestKey{Target: "/cart", Method: "GET"}.String()
	post := RequestKey{Target: "/cart", Method: "POST", Body: []byte("{}")}.String()
	if get == post {
		t.Errorf("GET and POST keys collide: %s", get)
	}

	bodyA := RequestKey{Target: "/search", Method: "POST", Body: []byte(`{"a":1,"b":2}`)}.String()
	bodyB := RequestKey{Target: "/search", Method: "POST", Body: []byte(`{"b":2,"a":1}`)}.String()
	if bodyA == bodyB {
		t.Errorf("bodies with different key order share key %s", bodyA)
	}

	langDE := RequestKey{Target: "/p", Headers: http.Header{"Accept-Language": []string{"de"}}}.String()
	langEN := RequestKey{Target: "/p", Headers: http.Header{"Accept-Language": []string{"en"}}}.String()
	if langDE == langEN {
		t.Errorf("different locales share key %s", langDE)
	}
}
