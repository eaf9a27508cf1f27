package registry

import (
	"fmt"
	"slices"

	"geninst/internal/identity"
)

// Snapshot is the persisted form of a Registry: two pairs of parallel
// sequences. Keys[i] owns Values[i], and within a namespace Keys[j] (an
// argument tuple) owns Values[j].
type Snapshot struct {
	Keys   []Definition `json:"keys" msgpack:"keys"`
	Values []Namespace  `json:"values" msgpack:"values"`
}

// Namespace holds the instantiations of one definition as parallel sequences.
type Namespace struct {
	Keys   [][]identity.TypeRef `json:"keys" msgpack:"keys"`
	Values []Artifact           `json:"values" msgpack:"values"`
}

// Empty reports whether the snapshot carries no state at all.
func (s *Snapshot) Empty() bool {
	return s == nil || (s.Keys == nil && s.Values == nil)
}

// Snapshot flattens the registry into parallel sequences in registration order.
func (r *Registry) Snapshot() *Snapshot {
	snap := &Snapshot{
		Keys:   make([]Definition, 0, len(r.order)),
		Values: make([]Namespace, 0, len(r.order)),
	}
	for _, name := range r.order {
		ns := r.spaces[name]
		out := Namespace{
			Keys:   make([][]identity.TypeRef, 0, len(ns.order)),
			Values: make([]Artifact, 0, len(ns.order)),
		}
		for _, tuple := range ns.order {
			e := ns.items[tuple]
			out.Keys = append(out.Keys, slices.Clone(e.args))
			out.Values = append(out.Values, e.artifact)
		}
		snap.Keys = append(snap.Keys, ns.def.clone())
		snap.Values = append(snap.Values, out)
	}
	return snap
}

// Restore replaces the registry contents with snap.
//
// A nil snapshot, or one whose sequences are both nil, leaves the registry
// untouched. When any pair of sequences disagrees in length the registry is
// left empty and ErrCorruptPersistedState is returned. Later duplicates
// overwrite earlier ones. A successful restore leaves the registry clean and
// clears both sequences of snap, so restoring it again is a no-op.
func (r *Registry) Restore(snap *Snapshot) error {
	if snap.Empty() {
		return nil
	}

	fresh := New()
	if len(snap.Keys) != len(snap.Values) {
		*r = *fresh
		return fmt.Errorf("%w: %d definitions, %d namespaces", ErrCorruptPersistedState, len(snap.Keys), len(snap.Values))
	}

	for i, def := range snap.Keys {
		ns := snap.Values[i]
		if len(ns.Keys) != len(ns.Values) {
			*r = *fresh
			return fmt.Errorf("%w: %s has %d keys, %d artifacts", ErrCorruptPersistedState, def.Name, len(ns.Keys), len(ns.Values))
		}

		space, ok := fresh.spaces[def.Name]
		if ok {
			space.def = def.clone()
		} else {
			space = newNamespace(def)
			fresh.spaces[def.Name] = space
			fresh.order = append(fresh.order, def.Name)
		}
		for j, args := range ns.Keys {
			tuple := identity.TupleKey(args)
			if _, exists := space.items[tuple]; !exists {
				space.order = append(space.order, tuple)
			}
			space.items[tuple] = &entry{args: slices.Clone(args), artifact: ns.Values[j]}
		}
	}

	fresh.rebuild()
	*r = *fresh
	snap.Keys, snap.Values = nil, nil
	return nil
}
