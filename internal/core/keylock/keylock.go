// Package keylock provides a mutex per string key. Rollup recompute and
// graph rebuild use it to enforce the single-writer-per-key discipline:
// singleflight is not a fit there because it shares one result among
// callers, while recompute must serialize writers that each run to
// completion.
package keylock

import "sync"

// KeyedMutex hands out a lock per key. Entries are reference-counted and
// freed once the last holder releases them, so the map tracks in-flight
// keys rather than every key ever locked — article-scope keys grow with the
// article population and would otherwise accumulate for the process
// lifetime.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty KeyedMutex.
func New() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for key, creating it on first use.
func (k *KeyedMutex) Lock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()
	e.mu.Lock()
}

// Unlock releases the mutex for key, dropping the entry when no other
// caller holds or waits on it. Panics if Lock was never called for it.
func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		k.mu.Unlock()
		panic("keylock: unlock of unknown key " + key)
	}
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
	e.mu.Unlock()
}
