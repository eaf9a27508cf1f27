package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geninst/internal/dispatch"
	"geninst/internal/generator"
	"geninst/internal/identity"
	"geninst/internal/module"
	"geninst/internal/registry"
	"geninst/internal/relay"
	"geninst/internal/storage"
)

const (
	modulePath = "example.com/app"
	modelsPkg  = modulePath + "/models"
)

type fakeDiscoverer struct {
	declared []Declared
	types    []string
	err      error
	typesErr error
}

func (f *fakeDiscoverer) EnumerateDeclaredGenericDefinitions(context.Context) ([]Declared, error) {
	return f.declared, f.err
}

func (f *fakeDiscoverer) KnownTypes(context.Context) (*TypeSet, error) {
	if f.typesErr != nil {
		return nil, f.typesErr
	}
	return NewTypeSet(modulePath, f.types...), nil
}

type recompiles struct{ count int }

func (r *recompiles) RequestRecompile(string) { r.count++ }

// fixture rebuilds every in-memory component from the backend and the
// generated directory, the way a recompilation does.
type fixture struct {
	dir     string
	backend *storage.MemoryStore
	disc    *fakeDiscoverer
	host    *recompiles

	reg   *registry.Registry
	store *module.Store
	gen   *generator.Generator
	disp  *dispatch.File
	rec   *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dir:     filepath.Join(t.TempDir(), "generated"),
		backend: storage.NewMemoryStore(),
		disc:    &fakeDiscoverer{types: []string{modelsPkg + ".User"}},
		host:    &recompiles{},
	}
	f.recompile(t)
	return f
}

func (f *fixture) recompile(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	f.reg = registry.New()
	flusher := storage.NewRegistryFlusher(f.reg, f.backend)
	require.NoError(t, flusher.Load(ctx))

	f.store = module.NewStore(f.dir)
	f.gen = generator.New(f.reg, f.store, relay.New(f.backend), f.host, "generated")
	f.disp = dispatch.NewFile(filepath.Join(f.dir, "dispatch_gen.go"), "generated", f.backend)
	require.NoError(t, f.disp.Load(ctx))
	f.rec = NewReconciler(f.reg, f.gen, f.disp, f.disc, flusher, nil)
}

func (f *fixture) run(t *testing.T) *Report {
	t.Helper()
	rep, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	return rep
}

func declare(name string, sourceID string, argNames ...string) Declared {
	def := registry.NewDefinition(identity.DefinitionID{Path: modelsPkg, Name: name}, "models", argNames, sourceID)
	return Declared{Definition: def}
}

func args(names ...string) []identity.TypeRef {
	refs, err := identity.ParseTypeRefs(names)
	if err != nil {
		panic(err)
	}
	return refs
}

// instantiate runs the full two-pass flow for def[argNames].
func (f *fixture) instantiate(t *testing.T, defName string, argNames ...string) {
	t.Helper()
	def, ok := f.reg.Definition(defName)
	require.True(t, ok)
	outcome, err := f.gen.RequestArtifact(context.Background(), def, args(argNames...))
	require.NoError(t, err)
	require.Equal(t, generator.OutcomePendingSecondPass, outcome)

	f.recompile(t)
	rep := f.run(t)
	require.True(t, rep.Resumed)
}

func TestRun_TwoPassInstantiation(t *testing.T) {
	f := newFixture(t)
	f.disc.declared = []Declared{declare("Container", "models/container.go#0", "T")}

	rep := f.run(t)
	assert.Equal(t, []string{modelsPkg + ".Container"}, rep.Added)
	assert.True(t, rep.DispatchWritten)
	assert.Empty(t, rep.Failures)

	def, _ := f.reg.Definition(modelsPkg + ".Container")
	outcome, err := f.gen.RequestArtifact(context.Background(), def, args("int32"))
	require.NoError(t, err)
	assert.Equal(t, generator.OutcomePendingSecondPass, outcome)
	assert.False(t, f.reg.ContainsKey(def.Name, args("int32")))

	f.recompile(t)
	rep = f.run(t)
	assert.True(t, rep.Resumed)
	assert.Empty(t, rep.Added)

	art, ok := f.reg.TryGet(def.Name, args("int32"))
	require.True(t, ok)
	assert.Equal(t, "Container_Int32", art.TypeName)

	// The registration was flushed and survives another recompilation.
	f.recompile(t)
	assert.True(t, f.reg.ContainsKey(def.Name, args("int32")))
}

func TestRun_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.disc.declared = []Declared{declare("Container", "models/container.go#0", "T")}
	f.run(t)
	f.instantiate(t, modelsPkg+".Container", "int32")

	f.recompile(t)
	rep := f.run(t)
	assert.False(t, rep.Changed())
	assert.False(t, f.reg.Dirty())
	assert.False(t, rep.DispatchWritten)
	assert.Equal(t, 1, f.reg.Len())
}

func TestRun_RenamePreservesArtifactIdentity(t *testing.T) {
	f := newFixture(t)
	f.disc.declared = []Declared{declare("Container", "models/container.go#0", "T")}
	f.run(t)
	f.instantiate(t, modelsPkg+".Container", "int32")
	before, _ := f.reg.TryGet(modelsPkg+".Container", args("int32"))

	f.disc.declared = []Declared{declare("Box", "models/container.go#0", "T")}
	f.recompile(t)
	rep := f.run(t)
	assert.Equal(t, []string{modelsPkg + ".Container -> " + modelsPkg + ".Box"}, rep.Renamed)
	assert.Empty(t, rep.Removed)
	assert.Empty(t, rep.Added)

	after, ok := f.reg.TryGet(modelsPkg+".Box", args("int32"))
	require.True(t, ok)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, "Box_Int32", after.TypeName)
	assert.False(t, f.reg.HasDefinition(modelsPkg+".Container"))
	assert.FileExists(t, f.store.StubPath("Box_Int32"))
	assert.NoFileExists(t, f.store.StubPath("Container_Int32"))

	assert.True(t, f.disp.Has("models_Box_1"))
	assert.False(t, f.disp.Has("models_Container_1"))
}

func TestRun_RemovedDefinitionCascades(t *testing.T) {
	f := newFixture(t)
	f.disc.declared = []Declared{
		declare("Container", "models/container.go#0", "T"),
		declare("Pair", "models/pair.go#0", "K", "V"),
	}
	f.run(t)
	f.instantiate(t, modelsPkg+".Container", "int32")
	f.instantiate(t, modelsPkg+".Container", "string")
	f.instantiate(t, modelsPkg+".Pair", "string", "int")
	pairArt, ok := f.reg.TryGet(modelsPkg+".Pair", args("string", "int"))
	require.True(t, ok)

	f.disc.declared = f.disc.declared[1:]
	f.recompile(t)
	rep := f.run(t)
	assert.Equal(t, []string{modelsPkg + ".Container"}, rep.Removed)
	assert.Equal(t, 2, rep.InstantiationsRemoved)
	assert.Empty(t, rep.Failures)
	assert.NoFileExists(t, f.store.StubPath("Container_Int32"))
	assert.NoFileExists(t, f.store.StubPath("Container_String"))
	assert.False(t, f.disp.Has("models_Container_1"))
	assert.True(t, f.disp.Has("models_Pair_2"))

	assert.Equal(t, 1, f.reg.Len())
	got, ok := f.reg.TryGet(modelsPkg+".Pair", args("string", "int"))
	require.True(t, ok)
	assert.Equal(t, pairArt, got)
	assert.FileExists(t, f.store.StubPath(pairArt.TypeName))
	assert.Len(t, f.reg.ReferencedBy(identity.MustParseTypeRef("string")), 1)
	inst, ok := f.reg.FindByArtifactTypeName(pairArt.TypeName)
	require.True(t, ok)
	assert.Equal(t, modelsPkg+".Pair", inst.Definition.Name)
}

func TestRun_ArityChangeDropsInstantiations(t *testing.T) {
	f := newFixture(t)
	f.disc.declared = []Declared{declare("Container", "models/container.go#0", "T")}
	f.run(t)
	f.instantiate(t, modelsPkg+".Container", "int32")

	f.disc.declared = []Declared{declare("Container", "models/container.go#0", "T", "U")}
	f.recompile(t)
	rep := f.run(t)
	assert.Equal(t, 1, rep.InstantiationsRemoved)
	assert.Equal(t, []string{modelsPkg + ".Container"}, rep.ArgsUpdated)
	assert.NoFileExists(t, f.store.StubPath("Container_Int32"))

	def, ok := f.reg.Definition(modelsPkg + ".Container")
	require.True(t, ok)
	assert.Equal(t, []string{"T", "U"}, def.ArgNames)
	assert.True(t, f.disp.Has("models_Container_2"))
	assert.False(t, f.disp.Has("models_Container_1"))
}

func TestRun_ArgNameRenameKeepsInstantiations(t *testing.T) {
	f := newFixture(t)
	f.disc.declared = []Declared{declare("Container", "models/container.go#0", "T")}
	f.run(t)
	f.instantiate(t, modelsPkg+".Container", "int32")

	f.disc.declared = []Declared{declare("Container", "models/container.go#0", "Elem")}
	f.recompile(t)
	rep := f.run(t)
	assert.Equal(t, []string{modelsPkg + ".Container"}, rep.ArgsUpdated)
	assert.Zero(t, rep.InstantiationsRemoved)
	assert.True(t, f.reg.ContainsKey(modelsPkg+".Container", args("int32")))
}

func TestRun_DeletedArgumentType(t *testing.T) {
	f := newFixture(t)
	f.disc.declared = []Declared{declare("Container", "models/container.go#0", "T")}
	f.run(t)
	f.instantiate(t, modelsPkg+".Container", modelsPkg+".User")
	f.instantiate(t, modelsPkg+".Container", "int32")

	f.disc.types = nil
	f.recompile(t)
	rep := f.run(t)
	assert.Equal(t, 1, rep.InstantiationsRemoved)
	assert.False(t, f.reg.ContainsKey(modelsPkg+".Container", args(modelsPkg+".User")))
	assert.True(t, f.reg.ContainsKey(modelsPkg+".Container", args("int32")))
	assert.NoFileExists(t, f.store.StubPath("Container_models_User"))
}

func TestRun_EnumerationErrorAbortsRun(t *testing.T) {
	f := newFixture(t)
	f.disc.declared = []Declared{declare("Container", "models/container.go#0", "T")}
	f.run(t)

	f.disc.err = errors.New("parse failure")
	_, err := f.rec.Run(context.Background())
	require.Error(t, err)
	assert.True(t, f.reg.HasDefinition(modelsPkg+".Container"))
}

func TestRun_FailureDoesNotStopOtherStages(t *testing.T) {
	f := newFixture(t)
	f.disc.declared = []Declared{declare("Container", "models/container.go#0", "T")}
	f.run(t)
	f.instantiate(t, modelsPkg+".Container", "int32")

	f.disc.typesErr = errors.New("scan failed")
	f.disc.declared = append(f.disc.declared, declare("Pair", "models/pair.go#0", "K", "V"))
	f.recompile(t)
	rep := f.run(t)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, []string{modelsPkg + ".Pair"}, rep.Added)
	assert.True(t, f.disp.Has("models_Pair_2"))
}

func TestRun_AbandonsRequestWhoseStubIsGone(t *testing.T) {
	f := newFixture(t)
	f.disc.declared = []Declared{declare("Container", "models/container.go#0", "T")}
	f.run(t)

	def, _ := f.reg.Definition(modelsPkg + ".Container")
	_, err := f.gen.RequestArtifact(context.Background(), def, args("int32"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(f.store.StubPath("Container_Int32")))

	f.recompile(t)
	rep := f.run(t)
	assert.False(t, rep.Resumed)
	pending, err := f.backend.LoadRelay(context.Background())
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestTypeSet_Live(t *testing.T) {
	ts := NewTypeSet(modulePath, modelsPkg+".User")
	assert.True(t, ts.Live(identity.MustParseTypeRef("int32")))
	assert.True(t, ts.Live(identity.MustParseTypeRef("time.Time")))
	assert.True(t, ts.Live(identity.MustParseTypeRef("[]*"+modelsPkg+".User")))
	assert.False(t, ts.Live(identity.MustParseTypeRef(modelsPkg+".Order")))
	assert.True(t, ts.Live(identity.MustParseTypeRef("example.com/application.Order")))
}
