package storage

import (
	"context"
	"slices"
	"sync"

	"geninst/internal/dispatch"
	"geninst/internal/registry"
	"geninst/internal/relay"
)

// MemoryStore is a process-local backend. State survives a registry wipe
// within one process but not a restart; the "memory" driver uses it for dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	snap    *registry.Snapshot
	relay   *relay.PendingRequest
	methods []dispatch.Method
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Close() error { return nil }

// LoadSnapshot returns a copy of the saved snapshot header; Restore clears
// the sequences of what it is given.
func (m *MemoryStore) LoadSnapshot(context.Context) (*registry.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil, nil
	}
	snap := *m.snap
	return &snap, nil
}

func (m *MemoryStore) SaveSnapshot(_ context.Context, snap *registry.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	return nil
}

func (m *MemoryStore) LoadRelay(context.Context) (*relay.PendingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.relay == nil {
		return nil, nil
	}
	req := *m.relay
	return &req, nil
}

func (m *MemoryStore) SaveRelay(_ context.Context, req *relay.PendingRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relay = req
	return nil
}

func (m *MemoryStore) LoadMethods(context.Context) ([]dispatch.Method, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.methods), nil
}

func (m *MemoryStore) SaveMethods(_ context.Context, methods []dispatch.Method) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.methods = slices.Clone(methods)
	return nil
}
