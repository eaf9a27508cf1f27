// Package relay carries one pending artifact request across a recompilation.
//
// When the generator writes a new stub the host must recompile before the
// artifact's type exists, and a recompilation wipes in-memory state. The
// request is parked in a persisted singleton slot and resumed by the next
// reconciliation.
package relay

import (
	"context"
	"fmt"
	"time"

	"geninst/internal/identity"
	"geninst/internal/log"
	"geninst/internal/registry"
)

// PendingRequest is an artifact request awaiting its second pass.
type PendingRequest struct {
	Definition  registry.Definition `json:"definition" msgpack:"definition"`
	Args        []identity.TypeRef  `json:"args" msgpack:"args"`
	FileStem    string              `json:"file_stem" msgpack:"file_stem"`
	FilePath    string              `json:"file_path" msgpack:"file_path"`
	RequestedAt time.Time           `json:"requested_at" msgpack:"requested_at"`
}

// DisplayName renders the requested instantiation.
func (p PendingRequest) DisplayName() string {
	return identity.DisplayName(p.Definition.TypeName, p.Args)
}

// Slot is persisted singleton storage that outlives a recompilation.
// LoadRelay returns nil when the slot is empty; SaveRelay(nil) empties it.
type Slot interface {
	LoadRelay(ctx context.Context) (*PendingRequest, error)
	SaveRelay(ctx context.Context, req *PendingRequest) error
}

// Relay is the single-slot hand-off between the two passes of artifact creation.
type Relay struct {
	slot Slot
}

func New(slot Slot) *Relay {
	return &Relay{slot: slot}
}

// Save parks req. An already parked request is overwritten and its loss logged.
func (r *Relay) Save(ctx context.Context, req PendingRequest) error {
	prev, err := r.slot.LoadRelay(ctx)
	if err != nil {
		return fmt.Errorf("relay: read slot: %w", err)
	}
	if prev != nil {
		log.Warn(log.CatRelay, "overwriting pending request",
			"abandoned", prev.DisplayName(), "stem", prev.FileStem, "replacement", req.DisplayName())
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	if err := r.slot.SaveRelay(ctx, &req); err != nil {
		return fmt.Errorf("relay: write slot: %w", err)
	}
	log.Debug(log.CatRelay, "parked request", "request", req.DisplayName(), "stem", req.FileStem)
	return nil
}

// Peek returns the parked request without clearing it.
func (r *Relay) Peek(ctx context.Context) (PendingRequest, bool, error) {
	req, err := r.slot.LoadRelay(ctx)
	if err != nil {
		return PendingRequest{}, false, fmt.Errorf("relay: read slot: %w", err)
	}
	if req == nil {
		return PendingRequest{}, false, nil
	}
	return *req, true, nil
}

// TryConsume returns the parked request and clears the slot.
func (r *Relay) TryConsume(ctx context.Context) (PendingRequest, bool, error) {
	req, ok, err := r.Peek(ctx)
	if err != nil || !ok {
		return req, ok, err
	}
	if err := r.Clear(ctx); err != nil {
		return PendingRequest{}, false, err
	}
	return req, true, nil
}

// Clear empties the slot. Clearing an empty slot is a no-op.
func (r *Relay) Clear(ctx context.Context) error {
	if err := r.slot.SaveRelay(ctx, nil); err != nil {
		return fmt.Errorf("relay: clear slot: %w", err)
	}
	return nil
}
