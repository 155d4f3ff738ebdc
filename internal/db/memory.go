package db

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

type memoryBytes struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore returns a Store that keeps every document in process memory.
// It backs tests and the CLI demo mode.
func NewMemoryStore(clock Clock, logger *zap.Logger) Store {
	return newLocalStore(&memoryBytes{data: make(map[string][]byte)}, clock, logger)
}

func (m *memoryBytes) load(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *memoryBytes) save(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memoryBytes) scan(prefix string, fn func(key string, value []byte) error) error {
	m.mu.RLock()
	keys := make([]string, 0)
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = m.data[k]
	}
	m.mu.RUnlock()

	for i, k := range keys {
		if err := fn(k, values[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *memoryBytes) close() error {
	return nil
}
