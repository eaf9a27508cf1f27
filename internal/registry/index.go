package registry

import (
	"slices"
	"sort"

	"geninst/internal/identity"
)

type instKey struct {
	def   string
	tuple string
}

// reverseIndex answers "which instantiations reference this type",
// "which definition lives at this source" and "which instantiation owns
// this artifact" without scanning every namespace.
type reverseIndex struct {
	byArg      map[string][]instKey
	bySource   map[string]string
	byArtifact map[string]instKey
}

func newReverseIndex() *reverseIndex {
	return &reverseIndex{
		byArg:      make(map[string][]instKey),
		bySource:   make(map[string]string),
		byArtifact: make(map[string]instKey),
	}
}

func argIdentities(args []identity.TypeRef) []string {
	ids := make([]string, 0, len(args))
	for _, a := range args {
		id := a.Base().String()
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (ix *reverseIndex) add(def, tuple string, args []identity.TypeRef, artifactType string) {
	k := instKey{def: def, tuple: tuple}
	for _, id := range argIdentities(args) {
		if !slices.Contains(ix.byArg[id], k) {
			ix.byArg[id] = append(ix.byArg[id], k)
		}
	}
	if artifactType != "" {
		ix.byArtifact[artifactType] = k
	}
}

func (ix *reverseIndex) remove(def, tuple string, args []identity.TypeRef, artifactType string) {
	k := instKey{def: def, tuple: tuple}
	for _, id := range argIdentities(args) {
		keys := slices.DeleteFunc(ix.byArg[id], func(x instKey) bool { return x == k })
		if len(keys) == 0 {
			delete(ix.byArg, id)
		} else {
			ix.byArg[id] = keys
		}
	}
	if cur, ok := ix.byArtifact[artifactType]; ok && cur == k {
		delete(ix.byArtifact, artifactType)
	}
}

func (ix *reverseIndex) retarget(oldType, newType, def, tuple string) {
	k := instKey{def: def, tuple: tuple}
	if cur, ok := ix.byArtifact[oldType]; ok && cur == k {
		delete(ix.byArtifact, oldType)
	}
	if newType != "" {
		ix.byArtifact[newType] = k
	}
}

func (ix *reverseIndex) addSource(sourceID, def string) {
	if sourceID != "" {
		ix.bySource[sourceID] = def
	}
}

func (ix *reverseIndex) removeSource(sourceID, def string) {
	if cur, ok := ix.bySource[sourceID]; ok && cur == def {
		delete(ix.bySource, sourceID)
	}
}

func (ix *reverseIndex) source(sourceID string) (string, bool) {
	def, ok := ix.bySource[sourceID]
	return def, ok
}

func (ix *reverseIndex) artifact(typeName string) (instKey, bool) {
	k, ok := ix.byArtifact[typeName]
	return k, ok
}

func (ix *reverseIndex) referencing(argIdentity string) []instKey {
	return slices.Clone(ix.byArg[argIdentity])
}

func (ix *reverseIndex) argTypes() []identity.TypeRef {
	ids := make([]string, 0, len(ix.byArg))
	for id := range ix.byArg {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	refs := make([]identity.TypeRef, 0, len(ids))
	for _, id := range ids {
		ref, err := identity.ParseTypeRef(id)
		if err != nil {
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

// rebuild recomputes every index from the namespaces. Used after a restore.
func (r *Registry) rebuild() {
	r.index = newReverseIndex()
	for _, name := range r.order {
		ns := r.spaces[name]
		r.index.addSource(ns.def.SourceID, name)
		for _, tuple := range ns.order {
			e := ns.items[tuple]
			r.index.add(name, tuple, e.args, e.artifact.TypeName)
		}
	}
}
