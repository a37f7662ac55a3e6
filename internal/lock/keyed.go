// Package lock provides mutual exclusion scoped to a key. The engine uses it
// as the per-document serialization point: all mutations to one document's
// status, recipients, and audit sequence happen under its lock, while
// operations on different documents proceed in parallel.
package lock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Keyed is a refcounted lock table. Entries are removed once the last holder
// releases, so the table does not grow with the number of documents ever seen.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewKeyed creates an empty lock table
func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[string]*entry)}
}

// Lock acquires the lock for key and returns the release function
func (k *Keyed) Lock(key string) func() {
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
