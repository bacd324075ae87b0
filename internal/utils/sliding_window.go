package utils

import (
	"sync"
	"time"
)

// Entry is one timestamped event inside a window.
type Entry[T any] struct {
	At      time.Time
	Payload T
}

// Tracker keeps an independent sliding window per key. Stale entries are
// evicted lazily on the next access for that key.
type Tracker[K comparable, T any] struct {
	mu      sync.Mutex
	entries map[K][]Entry[T]
}

func NewTracker[K comparable, T any]() *Tracker[K, T] {
	return &Tracker[K, T]{entries: make(map[K][]Entry[T])}
}

// Record appends an entry for key and returns the current window including it.
func (t *Tracker[K, T]) Record(key K, now time.Time, window time.Duration, payload T) []Entry[T] {
	t.mu.Lock()
	defer t.mu.Unlock()

	hits := evict(t.entries[key], now, window)
	hits = append(hits, Entry[T]{At: now, Payload: payload})
	t.entries[key] = hits
	return clone(hits)
}

// Current returns the non-expired entries for key, oldest first.
func (t *Tracker[K, T]) Current(key K, now time.Time, window time.Duration) []Entry[T] {
	t.mu.Lock()
	defer t.mu.Unlock()

	hits, ok := t.entries[key]
	if !ok {
		return nil
	}
	hits = evict(hits, now, window)
	if len(hits) == 0 {
		delete(t.entries, key)
		return nil
	}
	t.entries[key] = hits
	return clone(hits)
}

func (t *Tracker[K, T]) Len(key K, now time.Time, window time.Duration) int {
	return len(t.Current(key, now, window))
}

// Reset drops every entry for key.
func (t *Tracker[K, T]) Reset(key K) {
	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()
}

// evict drops the leading entries with now-At >= window.
func evict[T any](hits []Entry[T], now time.Time, window time.Duration) []Entry[T] {
	cutoff := now.Add(-window)
	idx := 0
	for _, hit := range hits {
		if hit.At.After(cutoff) {
			break
		}
		idx++
	}
	return hits[idx:]
}

func clone[T any](hits []Entry[T]) []Entry[T] {
	out := make([]Entry[T], len(hits))
	copy(out, hits)
	return out
}

// ActorKey scopes a tracked actor to its community.
type ActorKey struct {
	GuildID string
	ActorID string
}

func (k ActorKey) String() string {
	return k.GuildID + ":" + k.ActorID
}
