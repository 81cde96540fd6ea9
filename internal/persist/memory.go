package persist

import (
	"context"
	"sync"
)

// Memory keeps blobs in process. Used for tests and --store-backend=memory.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory { return &Memory{data: make(map[string][]byte)} }

func (m *Memory) Load(_ context.Context, namespace string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.data[namespace]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *Memory) Save(_ context.Context, namespace string, data []byte) error {
	m.mu.Lock()
	m.data[namespace] = append([]byte(nil), data...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, namespace string) error {
	m.mu.Lock()
	delete(m.data, namespace)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
