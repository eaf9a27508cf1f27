package registry

import (
	"fmt"
	"slices"

	"geninst/internal/identity"
)

type entry struct {
	args     []identity.TypeRef
	artifact Artifact
}

type namespace struct {
	def   Definition
	order []string
	items map[string]*entry
}

func newNamespace(def Definition) *namespace {
	return &namespace{def: def.clone(), items: make(map[string]*entry)}
}

func (ns *namespace) instantiation(tuple string) Instantiation {
	e := ns.items[tuple]
	return Instantiation{
		Definition: ns.def.clone(),
		Args:       slices.Clone(e.args),
		Artifact:   e.artifact,
	}
}

func (ns *namespace) remove(tuple string) {
	delete(ns.items, tuple)
	ns.order = slices.DeleteFunc(ns.order, func(k string) bool { return k == tuple })
}

// Registry maps generic definitions to their instantiations and artifacts.
// It performs no I/O: mutations only mark it dirty so the owner can flush a
// Snapshot to its persistence backend. A Registry is not safe for concurrent use.
type Registry struct {
	order  []string
	spaces map[string]*namespace
	index  *reverseIndex
	dirty  bool
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		spaces: make(map[string]*namespace),
		index:  newReverseIndex(),
	}
}

// Dirty reports whether the registry changed since the last MarkClean.
func (r *Registry) Dirty() bool { return r.dirty }

// MarkClean is called by the owner after a successful flush.
func (r *Registry) MarkClean() { r.dirty = false }

func (r *Registry) markDirty() { r.dirty = true }

// Len returns the number of instantiations across all definitions.
func (r *Registry) Len() int {
	n := 0
	for _, ns := range r.spaces {
		n += len(ns.items)
	}
	return n
}

// AddDefinition registers a generic definition with an empty instantiation set.
// Adding a definition that is already present is a no-op.
func (r *Registry) AddDefinition(def Definition) {
	if _, ok := r.spaces[def.Name]; ok {
		return
	}
	r.spaces[def.Name] = newNamespace(def)
	r.order = append(r.order, def.Name)
	r.index.addSource(def.SourceID, def.Name)
	r.markDirty()
}

// HasDefinition reports whether a definition with the given name is registered.
func (r *Registry) HasDefinition(name string) bool {
	_, ok := r.spaces[name]
	return ok
}

// Definition returns the registered definition with the given name.
func (r *Registry) Definition(name string) (Definition, bool) {
	ns, ok := r.spaces[name]
	if !ok {
		return Definition{}, false
	}
	return ns.def.clone(), true
}

// DefinitionBySource finds the definition declared at sourceID.
func (r *Registry) DefinitionBySource(sourceID string) (Definition, bool) {
	name, ok := r.index.source(sourceID)
	if !ok {
		return Definition{}, false
	}
	return r.Definition(name)
}

// Definitions returns every registered definition in registration order.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.spaces[name].def.clone())
	}
	return defs
}

// Add registers artifact for (def, args). It fails with ErrDuplicateKey if the
// pair already exists; callers that want reuse semantics check ContainsKey first.
// The definition's namespace is created on demand.
func (r *Registry) Add(def Definition, args []identity.TypeRef, artifact Artifact) error {
	tuple := identity.TupleKey(args)
	ns, ok := r.spaces[def.Name]
	if ok {
		if _, exists := ns.items[tuple]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, identity.DisplayName(def.Name, args))
		}
	} else {
		r.AddDefinition(def)
		ns = r.spaces[def.Name]
	}

	ns.items[tuple] = &entry{args: slices.Clone(args), artifact: artifact}
	ns.order = append(ns.order, tuple)
	r.index.add(def.Name, tuple, args, artifact.TypeName)
	r.markDirty()
	return nil
}

// ContainsKey reports whether (definitionName, args) has an artifact.
func (r *Registry) ContainsKey(definitionName string, args []identity.TypeRef) bool {
	_, ok := r.TryGet(definitionName, args)
	return ok
}

// TryGet returns the artifact registered for (definitionName, args).
func (r *Registry) TryGet(definitionName string, args []identity.TypeRef) (Artifact, bool) {
	ns, ok := r.spaces[definitionName]
	if !ok {
		return Artifact{}, false
	}
	e, ok := ns.items[identity.TupleKey(args)]
	if !ok {
		return Artifact{}, false
	}
	return e.artifact, true
}

// TryGetValue resolves an instantiation written as a definition name plus
// argument type names, the form used by interactive callers.
func (r *Registry) TryGetValue(definitionName string, argTypeNames []string) (Artifact, bool) {
	args, err := identity.ParseTypeRefs(argTypeNames)
	if err != nil {
		return Artifact{}, false
	}
	return r.TryGet(definitionName, args)
}

// Instantiations lists the instantiations of a definition in registration order.
func (r *Registry) Instantiations(definitionName string) []Instantiation {
	ns, ok := r.spaces[definitionName]
	if !ok {
		return nil
	}
	out := make([]Instantiation, 0, len(ns.order))
	for _, tuple := range ns.order {
		out = append(out, ns.instantiation(tuple))
	}
	return out
}

// All lists every instantiation, grouped by definition in registration order.
func (r *Registry) All() []Instantiation {
	var out []Instantiation
	for _, name := range r.order {
		out = append(out, r.Instantiations(name)...)
	}
	return out
}

// UpdateArtifactIdentity replaces the artifact of an existing instantiation in
// place. The instantiation keeps its position and count.
func (r *Registry) UpdateArtifactIdentity(definitionName string, args []identity.TypeRef, artifact Artifact) error {
	ns, ok := r.spaces[definitionName]
	if !ok {
		return fmt.Errorf("%w: definition %s", ErrNotFound, definitionName)
	}
	tuple := identity.TupleKey(args)
	e, ok := ns.items[tuple]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, identity.DisplayName(definitionName, args))
	}
	r.index.retarget(e.artifact.TypeName, artifact.TypeName, definitionName, tuple)
	e.artifact = artifact
	r.markDirty()
	return nil
}

// RenameDefinition moves a definition and all of its instantiations to
// newDef.Name. It returns the instantiations as they look after the rename so
// the caller can regenerate their artifacts.
func (r *Registry) RenameDefinition(oldName string, newDef Definition) ([]Instantiation, error) {
	ns, ok := r.spaces[oldName]
	if !ok {
		return nil, fmt.Errorf("%w: definition %s", ErrNotFound, oldName)
	}
	if oldName != newDef.Name {
		if _, taken := r.spaces[newDef.Name]; taken {
			return nil, fmt.Errorf("%w: definition %s", ErrDuplicateKey, newDef.Name)
		}
	}

	for _, tuple := range ns.order {
		e := ns.items[tuple]
		r.index.remove(oldName, tuple, e.args, e.artifact.TypeName)
		r.index.add(newDef.Name, tuple, e.args, e.artifact.TypeName)
	}
	r.index.removeSource(ns.def.SourceID, oldName)
	r.index.addSource(newDef.SourceID, newDef.Name)

	ns.def = newDef.clone()
	delete(r.spaces, oldName)
	r.spaces[newDef.Name] = ns
	for i, name := range r.order {
		if name == oldName {
			r.order[i] = newDef.Name
		}
	}
	r.markDirty()
	return r.Instantiations(newDef.Name), nil
}

// UpdateArgNames records renamed type parameters. Instantiations are untouched.
func (r *Registry) UpdateArgNames(definitionName string, argNames []string) error {
	ns, ok := r.spaces[definitionName]
	if !ok {
		return fmt.Errorf("%w: definition %s", ErrNotFound, definitionName)
	}
	ns.def.ArgNames = slices.Clone(argNames)
	r.markDirty()
	return nil
}

// RemoveDefinition removes a definition and every instantiation under it.
// The removed instantiations are returned for artifact cleanup.
func (r *Registry) RemoveDefinition(name string) []Instantiation {
	ns, ok := r.spaces[name]
	if !ok {
		return nil
	}
	removed := r.Instantiations(name)
	for _, tuple := range ns.order {
		e := ns.items[tuple]
		r.index.remove(name, tuple, e.args, e.artifact.TypeName)
	}
	r.index.removeSource(ns.def.SourceID, name)
	delete(r.spaces, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
	r.markDirty()
	return removed
}

// RemoveInstantiations clears a definition's instantiations but keeps the definition.
func (r *Registry) RemoveInstantiations(definitionName string) []Instantiation {
	ns, ok := r.spaces[definitionName]
	if !ok || len(ns.items) == 0 {
		return nil
	}
	removed := r.Instantiations(definitionName)
	for _, tuple := range slices.Clone(ns.order) {
		r.removeEntry(ns, tuple)
	}
	r.markDirty()
	return removed
}

// RemoveArgumentType removes every instantiation, across all definitions,
// whose arguments reference t (modifiers are ignored).
func (r *Registry) RemoveArgumentType(t identity.TypeRef) []Instantiation {
	keys := r.index.referencing(t.Base().String())
	if len(keys) == 0 {
		return nil
	}
	removed := make([]Instantiation, 0, len(keys))
	for _, k := range keys {
		ns := r.spaces[k.def]
		removed = append(removed, ns.instantiation(k.tuple))
		r.removeEntry(ns, k.tuple)
	}
	r.markDirty()
	return removed
}

// ReferencedBy lists the instantiations whose arguments reference t.
func (r *Registry) ReferencedBy(t identity.TypeRef) []Instantiation {
	keys := r.index.referencing(t.Base().String())
	out := make([]Instantiation, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.spaces[k.def].instantiation(k.tuple))
	}
	return out
}

// ArgumentTypes returns every distinct base argument type currently referenced.
func (r *Registry) ArgumentTypes() []identity.TypeRef {
	return r.index.argTypes()
}

// FindByArtifactTypeName looks up the instantiation whose artifact has the given type name.
func (r *Registry) FindByArtifactTypeName(typeName string) (Instantiation, bool) {
	k, ok := r.index.artifact(typeName)
	if !ok {
		return Instantiation{}, false
	}
	return r.spaces[k.def].instantiation(k.tuple), true
}

// RemoveByArtifactTypeName drops the instantiation backed by the named artifact.
func (r *Registry) RemoveByArtifactTypeName(typeName string) (Instantiation, bool) {
	k, ok := r.index.artifact(typeName)
	if !ok {
		return Instantiation{}, false
	}
	ns := r.spaces[k.def]
	inst := ns.instantiation(k.tuple)
	r.removeEntry(ns, k.tuple)
	r.markDirty()
	return inst, true
}

func (r *Registry) removeEntry(ns *namespace, tuple string) {
	e, ok := ns.items[tuple]
	if !ok {
		return
	}
	r.index.remove(ns.def.Name, tuple, e.args, e.artifact.TypeName)
	ns.remove(tuple)
}
