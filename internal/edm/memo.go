package edm

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// memo caches one value per key. Concurrent first callers for the same key
// share a single build; failed builds are not cached.
type memo[V any] struct {
	mu    sync.RWMutex
	items map[string]V
	group singleflight.Group
}

func (m *memo[V]) lookup(key string) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok
}

func (m *memo[V]) get(key string, build func() (V, error)) (V, error) {
	if v, ok := m.lookup(key); ok {
		return v, nil
	}

	res, err, _ := m.group.Do(key, func() (any, error) {
		if v, ok := m.lookup(key); ok {
			return v, nil
		}
		v, err := build()
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		if m.items == nil {
			m.items = make(map[string]V)
		}
		m.items[key] = v
		m.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

func (m *memo[V]) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
