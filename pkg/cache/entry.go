package cache

import (
	"time"
)

// Entry represents one cached payload.
type Entry[V any] struct {
	// Key is the request fingerprint the entry is stored under
	Key string `json:"key"`

	// Value is the cached payload, opaque to the cache
	Value V `json:"value"`

	// CreatedAt is when the entry was inserted
	CreatedAt time.Time `json:"created_at"`

	// TTL is the freshness window measured from CreatedAt
	TTL time.Duration `json:"ttl"`
}

// Valid reports whether the entry is still fresh at now.
// An entry is valid iff now - CreatedAt <= TTL.
func (e *Entry[V]) Valid(now time.Time) bool {
	return now.Sub(e.CreatedAt) <= e.TTL
}

// ExpiresAt returns the last instant at which the entry is valid.
func (e *Entry[V]) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// Remaining returns the time until the entry goes stale.
// Returns 0 if already stale.
func (e *Entry[V]) Remaining(now time.Time) time.Duration {
	ttl := e.ExpiresAt().Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// SameWrite reports whether e and other were produced by the same Set.
func (e *Entry[V]) SameWrite(other *Entry[V]) bool {
	return other != nil && e.CreatedAt.Equal(other.CreatedAt) && e.TTL == other.TTL
}
