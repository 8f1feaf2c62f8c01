// Package keylock provides reader/writer locks keyed by string.
//
// Locks are reference counted and dropped from the registry once no holder or
// waiter remains, so the registry does not grow with the number of keys ever seen.
package keylock

import (
	"sort"
	"sync"
)

type entry struct {
	mu   sync.RWMutex
	refs int
}

// Registry hands out per-key RW locks.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*entry
}

func New() *Registry {
	return &Registry{locks: make(map[string]*entry)}
}

func (r *Registry) acquire(key string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.locks[key]
	if !ok {
		e = &entry{}
		r.locks[key] = e
	}
	e.refs++
	return e
}

func (r *Registry) release(key string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(r.locks, key)
	}
}

// Lock takes the write lock for key and returns its unlock func.
func (r *Registry) Lock(key string) func() {
	e := r.acquire(key)
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		r.release(key, e)
	}
}

// RLockAll takes read locks on every distinct key in sorted order and returns
// one func that releases them all.
func (r *Registry) RLockAll(keys []string) func() {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		uniq = append(uniq, k)
	}
	sort.Strings(uniq)

	held := make([]*entry, 0, len(uniq))
	for _, k := range uniq {
		e := r.acquire(k)
		e.mu.RLock()
		held = append(held, e)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.RUnlock()
			r.release(uniq[i], held[i])
		}
	}
}

// Len returns the number of keys currently tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
