package cache

import (
	"context"
	"errors"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store is the storage backend of a Cache.
// Stores keep entries verbatim; freshness is decided by the Cache on read.
type Store[V any] interface {
	// Name identifies the store in metrics and logs ("memory", "redis").
	Name() string

	// Get returns the entry for key or ErrCacheMiss.
	Get(ctx context.Context, key string) (*Entry[V], error)

	// Set inserts or overwrites the entry under entry.Key.
	Set(ctx context.Context, entry *Entry[V]) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// CompareAndDelete removes entry.Key only while the stored entry is the
	// same write as entry (see Entry.SameWrite). It reports whether it deleted.
	CompareAndDelete(ctx context.Context, entry *Entry[V]) (bool, error)

	// Clear removes every entry owned by the store.
	Clear(ctx context.Context) error
}
