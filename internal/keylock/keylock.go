// Package keylock provides a reference-counted keyed mutex: one lock per key,
// created on first use and released when the last holder or waiter leaves.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Map serializes work per key. The zero value is ready to use.
type Map[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*entry
}

// Lock blocks until the lock for key is held and returns the function that releases it.
// The returned function must be called exactly once.
func (m *Map[K]) Lock(key K) (unlock func()) {
	m.mu.Lock()
	if m.entries == nil {
		m.entries = make(map[K]*entry)
	}
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()

			m.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(m.entries, key)
			}
			m.mu.Unlock()
		})
	}
}

// With runs fn while holding the lock for key
func (m *Map[K]) With(key K, fn func() error) error {
	unlock := m.Lock(key)
	defer unlock()
	return fn()
}

// size returns the number of keys currently held or waited on
func (m *Map[K]) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
