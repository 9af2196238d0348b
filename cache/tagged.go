package cache

import (
	"sync"
)

// Tagged wraps a Cache with per-entry tags and dependency sets so that a
// change event for one dependency can invalidate only the affected
// entries instead of flushing the whole cache.
//
// Tags classify entries ("active", "recent"); dependencies name the
// external records an entry was derived from (e.g. the terminology
// server ids a settings record references).
type Tagged[K comparable, V any] struct {
	mu    sync.Mutex
	cache *Cache[K, V]

	// byTag and byDep are reverse indexes from tag/dependency to keys.
	byTag map[string]map[K]struct{}
	byDep map[string]map[K]struct{}

	// meta tracks the tags and deps of each live key for cleanup.
	meta map[K]entryMeta
}

type entryMeta struct {
	tags []string
	deps []string
}

// NewTagged creates a tagged cache with the given capacity.
func NewTagged[K comparable, V any](capacity int) *Tagged[K, V] {
	return &Tagged[K, V]{
		cache: New[K, V](capacity),
		byTag: make(map[string]map[K]struct{}),
		byDep: make(map[string]map[K]struct{}),
		meta:  make(map[K]entryMeta),
	}
}

// Get retrieves a value by key.
func (t *Tagged[K, V]) Get(key K) (V, bool) {
	return t.cache.Get(key)
}

// Set stores a value with its tags and dependency ids.
func (t *Tagged[K, V]) Set(key K, value V, tags, deps []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.unindex(key)
	t.cache.Set(key, value)
	t.meta[key] = entryMeta{tags: tags, deps: deps}

	for _, tag := range tags {
		if t.byTag[tag] == nil {
			t.byTag[tag] = make(map[K]struct{})
		}
		t.byTag[tag][key] = struct{}{}
	}
	for _, dep := range deps {
		if t.byDep[dep] == nil {
			t.byDep[dep] = make(map[K]struct{})
		}
		t.byDep[dep][key] = struct{}{}
	}
}

// Delete removes an entry and its index records.
func (t *Tagged[K, V]) Delete(key K) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unindex(key)
	t.cache.Delete(key)
}

// InvalidateDependency removes every entry that depends on dep.
// Returns the number of entries removed.
func (t *Tagged[K, V]) InvalidateDependency(dep string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := t.byDep[dep]
	n := len(keys)
	for key := range keys {
		t.unindex(key)
		t.cache.Delete(key)
	}
	return n
}

// InvalidateTag removes every entry carrying tag.
// Returns the number of entries removed.
func (t *Tagged[K, V]) InvalidateTag(tag string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := t.byTag[tag]
	n := len(keys)
	for key := range keys {
		t.unindex(key)
		t.cache.Delete(key)
	}
	return n
}

// unindex removes key from all reverse indexes. Must hold mu.
func (t *Tagged[K, V]) unindex(key K) {
	m, ok := t.meta[key]
	if !ok {
		return
	}
	for _, tag := range m.tags {
		delete(t.byTag[tag], key)
		if len(t.byTag[tag]) == 0 {
			delete(t.byTag, tag)
		}
	}
	for _, dep := range m.deps {
		delete(t.byDep[dep], key)
		if len(t.byDep[dep]) == 0 {
			delete(t.byDep, dep)
		}
	}
	delete(t.meta, key)
}

// Clear removes all entries and indexes.
func (t *Tagged[K, V]) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cache.Clear()
	t.byTag = make(map[string]map[K]struct{})
	t.byDep = make(map[string]map[K]struct{})
	t.meta = make(map[K]entryMeta)
}

// Len returns the number of live entries.
func (t *Tagged[K, V]) Len() int {
	return t.cache.Len()
}

// Stats returns the underlying cache statistics.
func (t *Tagged[K, V]) Stats() Stats {
	return t.cache.Stats()
}
