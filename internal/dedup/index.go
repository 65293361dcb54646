// Package dedup holds the identity keys used to suppress duplicate leads.
package dedup

import "sync"

// Index is a concurrency-safe set of dedup keys. One Index is shared by all
// keyword contexts of a task, so Reserve performs the check and the insert
// under a single lock.
type Index struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// New returns an Index seeded with keys already on record.
func New(keys ...string) *Index {
	idx := &Index{keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		idx.keys[k] = struct{}{}
	}
	return idx
}

// Reserve adds key and returns true if it was absent. A false return means
// the listing is a duplicate.
func (i *Index) Reserve(key string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.keys[key]; ok {
		return false
	}
	i.keys[key] = struct{}{}
	return true
}

// Release drops a key reserved for a lead that was never persisted.
func (i *Index) Release(key string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.keys, key)
}

// Len returns the number of keys.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.keys)
}
