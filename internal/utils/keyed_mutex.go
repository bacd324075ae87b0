package utils

import (
	"fmt"
	"sync"
)

// KeyedMutex serialises work per key while letting distinct keys run
// concurrently. Entries are removed once no goroutine holds or waits on them.
type KeyedMutex[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*keyedEntry[K]
}

type keyedEntry[K comparable] struct {
	owner *KeyedMutex[K]
	mu    sync.Mutex
	refs  int
	key   K
}

// Unlocker releases a key lock.
type Unlocker interface {
	Unlock()
}

func NewKeyedMutex[K comparable]() *KeyedMutex[K] {
	return &KeyedMutex[K]{entries: make(map[K]*keyedEntry[K])}
}

// Lock blocks until key is free. The returned Unlocker must be called.
func (m *KeyedMutex[K]) Lock(key K) Unlocker {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if !ok {
		entry = &keyedEntry[K]{owner: m, key: key}
		m.entries[key] = entry
	}
	entry.refs++
	m.mu.Unlock()

	entry.mu.Lock()
	return entry
}

func (m *KeyedMutex[K]) IsLocked(key K) bool {
	m.mu.Lock()
	_, ok := m.entries[key]
	m.mu.Unlock()
	return ok
}

func (e *keyedEntry[K]) Unlock() {
	m := e.owner

	m.mu.Lock()
	entry, ok := m.entries[e.key]
	if !ok {
		m.mu.Unlock()
		panic(fmt.Errorf("unlock of key %v without entry", e.key))
	}
	entry.refs--
	if entry.refs < 1 {
		delete(m.entries, e.key)
	}
	m.mu.Unlock()

	entry.mu.Unlock()
}
