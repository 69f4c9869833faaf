package cache

import (
	"context"
	"strings"
	"sync"
)

// Memory is an in-process Cache for single-node deployments and tests.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]string
	registry map[string]struct{}
	byDep    map[string]map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		entries:  make(map[string]string),
		registry: make(map[string]struct{}),
		byDep:    make(map[string]map[string]struct{}),
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, ok
}

func (m *Memory) Put(_ context.Context, key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
}

func (m *Memory) Remove(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drop(key)
}

func (m *Memory) RegisterConnectionKey(_ context.Context, key string, deps ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.registry[key] = struct{}{}
	for _, dep := range deps {
		if dep == "" {
			continue
		}
		set, ok := m.byDep[dep]
		if !ok {
			set = make(map[string]struct{})
			m.byDep[dep] = set
		}
		set[key] = struct{}{}
	}
}

func (m *Memory) InvalidateByFragment(_ context.Context, fragment string) {
	if fragment == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.byDep[fragment] {
		m.drop(key)
	}
	delete(m.byDep, fragment)

	for key := range m.registry {
		if strings.Contains(key, fragment) {
			m.drop(key)
		}
	}
}

// drop removes the entry, its registry slot, and any index references.
// Callers hold the lock.
func (m *Memory) drop(key string) {
	delete(m.entries, key)
	delete(m.registry, key)
	for dep, set := range m.byDep {
		delete(set, key)
		if len(set) == 0 {
			delete(m.byDep, dep)
		}
	}
}

var _ Cache = (*Memory)(nil)
