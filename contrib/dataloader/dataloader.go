// Package dataloader provides generic helpers for loading entities once and
// serving later lookups from memory.
//
// # Indexing
//
// Children of a node are loaded with one query per relation and indexed by
// primary key, so that matching each incoming child does not issue its own
// lookup:
//
//	children, err := drv.Find(ctx, "Avatar", map[string]any{"profile_id": id})
//	byPK := dataloader.Index(children, func(e *nestwrite.Entity) string {
//	    return nestwrite.IDString(e.ID)
//	})
//
// # Loader
//
// A Loader memoizes a fetch function by key for the lifetime of one
// operation, such as rendering an entity tree:
//
//	users := dataloader.NewLoader(func(ctx context.Context, id string) (*nestwrite.Entity, error) {
//	    return drv.FindOne(ctx, "User", map[string]any{"id": id})
//	})
//	u, err := users.Load(ctx, "42")
package dataloader

import (
	"context"
	"sync"
)

// KeyFunc extracts a key from an entity.
type KeyFunc[K comparable, V any] func(V) K

// FetchFunc loads the value of a key.
type FetchFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Index maps values by key. Later values win over earlier ones with the
// same key.
//
// Example:
//
//	byID := Index(users, func(u *nestwrite.Entity) string { return u.Key() })
func Index[K comparable, V any](values []V, keyFn KeyFunc[K, V]) map[K]V {
	result := make(map[K]V, len(values))
	for _, v := range values {
		result[keyFn(v)] = v
	}
	return result
}

// GroupByKey groups values by a key function, keeping their order within
// each group.
//
// Example:
//
//	byModel := GroupByKey(orphans, func(e *nestwrite.Entity) string { return e.Model })
func GroupByKey[K comparable, V any](values []V, keyFn KeyFunc[K, V]) map[K][]V {
	result := make(map[K][]V)
	for _, v := range values {
		key := keyFn(v)
		result[key] = append(result[key], v)
	}
	return result
}

// Loader memoizes a fetch function by key. It is safe for concurrent use.
// Errors are not cached.
type Loader[K comparable, V any] struct {
	fetch FetchFunc[K, V]
	mu    sync.Mutex
	cache map[K]V
}

// NewLoader returns a loader calling fetch on cache misses.
func NewLoader[K comparable, V any](fetch FetchFunc[K, V]) *Loader[K, V] {
	return &Loader[K, V]{fetch: fetch, cache: make(map[K]V)}
}

// Load returns the value of key, fetching it on the first call.
func (l *Loader[K, V]) Load(ctx context.Context, key K) (V, error) {
	l.mu.Lock()
	v, ok := l.cache[key]
	l.mu.Unlock()
	if ok {
		return v, nil
	}
	v, err := l.fetch(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}
	l.Prime(key, v)
	return v, nil
}

// Prime stores a known value, replacing any cached one.
func (l *Loader[K, V]) Prime(key K, value V) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache[key] = value
}

// PrimeMany primes multiple values into the cache.
func (l *Loader[K, V]) PrimeMany(values []V, keyFn KeyFunc[K, V]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, v := range values {
		l.cache[keyFn(v)] = v
	}
}

// Len returns the number of cached keys.
func (l *Loader[K, V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cache)
}
