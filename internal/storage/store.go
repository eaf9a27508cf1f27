package storage

import (
	"context"
	"fmt"

	"geninst/internal/config"
	"geninst/internal/dispatch"
	"geninst/internal/registry"
	"geninst/internal/relay"
)

// Backend persists everything that must survive a recompilation.
type Backend interface {
	// LoadSnapshot returns nil when nothing has been saved yet.
	LoadSnapshot(ctx context.Context) (*registry.Snapshot, error)
	// SaveSnapshot replaces the persisted registry with snap.
	SaveSnapshot(ctx context.Context, snap *registry.Snapshot) error

	relay.Slot
	dispatch.MethodStore

	Close() error
}

// Open creates the backend selected by cfg.Storage.Driver.
func Open(cfg *config.Config) (Backend, error) {
	switch cfg.Storage.Driver {
	case "sqlite", "":
		return NewSQLiteStore(cfg.StoragePathAbs())
	case "file":
		return NewFileStore(cfg.StoragePathAbs()), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}
}

// RegistryFlusher writes the registry through to a backend whenever it is dirty.
type RegistryFlusher struct {
	reg     *registry.Registry
	backend Backend
}

func NewRegistryFlusher(reg *registry.Registry, backend Backend) *RegistryFlusher {
	return &RegistryFlusher{reg: reg, backend: backend}
}

// Load restores the registry from the backend.
func (f *RegistryFlusher) Load(ctx context.Context) error {
	snap, err := f.backend.LoadSnapshot(ctx)
	if err != nil {
		return err
	}
	return f.reg.Restore(snap)
}

// Flush saves a snapshot if the registry changed since the last flush.
func (f *RegistryFlusher) Flush(ctx context.Context) error {
	if !f.reg.Dirty() {
		return nil
	}
	if err := f.backend.SaveSnapshot(ctx, f.reg.Snapshot()); err != nil {
		return fmt.Errorf("flush registry: %w", err)
	}
	f.reg.MarkClean()
	return nil
}
