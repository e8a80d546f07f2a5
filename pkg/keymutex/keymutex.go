// Package keymutex provides a mutex per string key.
package keymutex

import (
	"context"
	"sync"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// KeyMutex serialises work per key. Entries are released once no goroutine holds or waits on them.
type KeyMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *KeyMutex {
	return &KeyMutex{entries: make(map[string]*entry)}
}

// Lock blocks until key is held and returns the matching unlock function.
func (k *KeyMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}

// Acquire is Lock for callers that take a cancellable lock. It fails only when ctx is already done.
func (k *KeyMutex) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return k.Lock(key), nil
}

// Len reports how many keys are currently tracked.
func (k *KeyMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
