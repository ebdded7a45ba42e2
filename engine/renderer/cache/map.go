// Package cache deduplicates GPU objects by the fingerprint of the arguments
// they were built from.
package cache

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// KindStats is a snapshot of one Map.
type KindStats struct {
	Kind    gpu.ObjectKind
	Hits    uint64
	Misses  uint64
	Entries int
}

// Map is a fingerprint → object map for one object kind. Hits only take the
// read lock. A miss takes the write lock, checks again and builds the object
// while holding it, so an object is built at most once per fingerprint and
// nobody sees it before its constructor returned.
//
// T is expected to be a pointer type: callers keep the returned value for
// as long as the entry lives.
type Map[T any] struct {
	kind    gpu.ObjectKind
	mu      sync.RWMutex
	entries map[uint64]T

	hits   atomic.Uint64
	misses atomic.Uint64
}

func NewMap[T any](kind gpu.ObjectKind) *Map[T] {
	return &Map[T]{
		kind:    kind,
		entries: make(map[uint64]T),
	}
}

func (m *Map[T]) Kind() gpu.ObjectKind {
	return m.kind
}

// Request returns the entry stored under fp, calling build on a miss. A
// failed build leaves the map untouched and comes back as a
// *gpu.CreationError naming the kind and the ordinal the entry would have
// had.
func (m *Map[T]) Request(fp uint64, build func() (T, error)) (T, error) {
	m.mu.RLock()
	v, ok := m.entries[fp]
	m.mu.RUnlock()
	if ok {
		m.hits.Add(1)
		return v, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.entries[fp]; ok {
		m.hits.Add(1)
		return v, nil
	}

	ordinal := len(m.entries)
	core.LogDebug("Building #%d cache object (%s)", ordinal, m.kind)
	v, err := build()
	if err != nil {
		var zero T
		return zero, gpu.NewCreationError(m.kind, ordinal, err)
	}
	m.entries[fp] = v
	m.misses.Add(1)
	return v, nil
}

func (m *Map[T]) Get(fp uint64) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[fp]
	return v, ok
}

func (m *Map[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Range calls fn for every entry until fn returns false. fn must not call
// back into the same Map.
func (m *Map[T]) Range(fn func(fp uint64, v T) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for fp, v := range m.entries {
		if !fn(fp, v) {
			return
		}
	}
}

// Clear drops every entry, passing each one to destroy when it is not nil.
func (m *Map[T]) Clear(destroy func(T)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if destroy != nil {
		for _, v := range m.entries {
			destroy(v)
		}
	}
	clear(m.entries)
}

// Rekey lets fn mutate entries in place. For each entry fn reports its new
// fingerprint and whether it changed; changed entries move to the new key.
// Entries are visited in fingerprint order. When the new key is already
// taken, by a resident entry or by an entry moved before, the entry is
// removed and handed to drop. It returns the number of moved entries.
func (m *Map[T]) Rekey(fn func(v T) (uint64, bool), drop func(T)) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	type move struct {
		from, to uint64
		v        T
	}
	var moves []move
	for _, fp := range slices.Sorted(maps.Keys(m.entries)) {
		v := m.entries[fp]
		next, changed := fn(v)
		if !changed || next == fp {
			continue
		}
		delete(m.entries, fp)
		moves = append(moves, move{from: fp, to: next, v: v})
	}

	n := 0
	for _, mv := range moves {
		if _, taken := m.entries[mv.to]; taken {
			core.LogWarn("%s %#x rebound to fingerprint %#x which is already cached, dropping it", m.kind, mv.from, mv.to)
			if drop != nil {
				drop(mv.v)
			}
			continue
		}
		m.entries[mv.to] = mv.v
		n++
	}
	return n
}

func (m *Map[T]) Stats() KindStats {
	return KindStats{
		Kind:    m.kind,
		Hits:    m.hits.Load(),
		Misses:  m.misses.Load(),
		Entries: m.Len(),
	}
}
