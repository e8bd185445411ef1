package kv

import (
	"context"
	"os"
	"sort"
	"sync"
)

// Memory is an in-process Storage. All tabs created in one process share a
// single Memory the way browser tabs of one origin share localStorage.
type Memory struct {
	mu    sync.RWMutex
	items map[string][]byte
	quota int // bytes; 0 = unlimited
	used  int
}

// NewMemory returns an empty store limited to quota bytes (keys plus values).
// A quota of 0 disables the limit.
func NewMemory(quota int) *Memory {
	return &Memory{
		items: make(map[string][]byte),
		quota: quota,
	}
}

// GetItem returns a copy of the value stored under key.
func (m *Memory) GetItem(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.items[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// SetItem stores value under key, replacing any previous value. It fails with
// ErrQuotaExceeded if the resulting size would exceed the quota.
func (m *Memory) SetItem(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	used := m.used + len(value)
	if old, ok := m.items[key]; ok {
		used -= len(old)
	} else {
		used += len(key)
	}
	if m.quota > 0 && used > m.quota {
		return ErrQuotaExceeded
	}

	v := make([]byte, len(value))
	copy(v, value)
	m.items[key] = v
	m.used = used
	return nil
}

// RemoveItem deletes key. Removing a missing key is not an error.
func (m *Memory) RemoveItem(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.items[key]; ok {
		m.used -= len(key) + len(old)
		delete(m.items, key)
	}
	return nil
}

// Keys returns all stored keys in sorted order.
func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Used returns the number of bytes currently counted against the quota.
func (m *Memory) Used() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used
}
