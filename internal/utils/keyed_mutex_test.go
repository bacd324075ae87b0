package utils

import (
	"sync"
	"testing"
)

func TestKeyedMutexSerialisesSameKey(t *testing.T) {
	locks := NewKeyedMutex[string]()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("k")
			value := counter
			value++
			counter = value
			unlock.Unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("expected 50, got %d", counter)
	}
	if locks.IsLocked("k") {
		t.Fatalf("expected entry to be released")
	}
}

func TestKeyedMutexDistinctKeys(t *testing.T) {
	locks := NewKeyedMutex[string]()
	a := locks.Lock("a")
	b := locks.Lock("b")
	if !locks.IsLocked("a") || !locks.IsLocked("b") {
		t.Fatalf("expected both keys locked")
	}
	a.Unlock()
	b.Unlock()
}
