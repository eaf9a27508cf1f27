package generator

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"geninst/internal/identity"
	"geninst/internal/log"
	"geninst/internal/module"
	"geninst/internal/registry"
	"geninst/internal/relay"
)

var ErrArityMismatch = errors.New("generator: wrong number of type arguments")

// Outcome tells the caller whether the artifact is usable right away.
type Outcome int

const (
	// OutcomeUnknown accompanies a failed request.
	OutcomeUnknown Outcome = iota
	// OutcomeCreatedSynchronously means the artifact is registered and usable.
	OutcomeCreatedSynchronously
	// OutcomePendingSecondPass means a stub was written and the request is
	// parked in the relay until the host has recompiled.
	OutcomePendingSecondPass
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreatedSynchronously:
		return "created"
	case OutcomePendingSecondPass:
		return "pending"
	default:
		return "unknown"
	}
}

// Recompiler is the host hook that schedules a recompilation.
type Recompiler interface {
	RequestRecompile(reason string)
}

// Generator produces concrete artifacts for instantiations.
type Generator struct {
	reg     *registry.Registry
	modules *module.Store
	relay   *relay.Relay
	host    Recompiler
	pkgName string
}

func New(reg *registry.Registry, modules *module.Store, rl *relay.Relay, host Recompiler, pkgName string) *Generator {
	return &Generator{reg: reg, modules: modules, relay: rl, host: host, pkgName: pkgName}
}

// PackageName is the package clause of generated stubs.
func (g *Generator) PackageName() string { return g.pkgName }

// Render returns the stub source for def[args] under stem.
func (g *Generator) Render(stem string, def registry.Definition, args []identity.TypeRef) ([]byte, error) {
	return RenderStub(g.pkgName, stem, def, args)
}

// stemFor picks the file stem for def[args]. The short encoding is used
// unless another instantiation already owns it.
func (g *Generator) stemFor(def registry.Definition, args []identity.TypeRef) string {
	stem := identity.Encode(def.Name, args)
	owner, taken := g.reg.FindByArtifactTypeName(stem)
	if !taken {
		return stem
	}
	if owner.Definition.Name == def.Name && identity.EqualTuples(owner.Args, args) {
		return stem
	}
	return identity.EncodeUnique(def.Name, args)
}

// RequestArtifact ensures an artifact exists for def[args].
//
// An already registered pair is reused. A stub already on disk with exactly
// the bytes that would be generated is registered immediately. Otherwise the
// stub is written, the request parked in the relay, and a recompile requested.
// On a write failure nothing is registered or parked.
func (g *Generator) RequestArtifact(ctx context.Context, def registry.Definition, args []identity.TypeRef) (Outcome, error) {
	display := identity.DisplayName(def.TypeName, args)
	if len(args) != def.Arity() {
		return OutcomeUnknown, fmt.Errorf("%w: %s takes %d, got %d", ErrArityMismatch, def.Name, def.Arity(), len(args))
	}
	if g.reg.ContainsKey(def.Name, args) {
		log.Debug(log.CatGenerate, "reusing artifact", "instantiation", display)
		return OutcomeCreatedSynchronously, nil
	}

	stem := g.stemFor(def, args)
	src, err := g.Render(stem, def, args)
	if err != nil {
		return OutcomeUnknown, err
	}

	if existing, err := g.modules.ReadStub(stem); err == nil && bytes.Equal(existing, src) {
		h, err := g.modules.EnsureMeta(stem)
		if err != nil {
			return OutcomeUnknown, fmt.Errorf("adopt %s: %w", stem, err)
		}
		if err := g.reg.Add(def, args, artifactOf(h)); err != nil {
			return OutcomeUnknown, err
		}
		log.Info(log.CatGenerate, "adopted existing stub", "instantiation", display, "stem", stem)
		return OutcomeCreatedSynchronously, nil
	}

	h, err := g.modules.CompileConcreteModule(ctx, stem, src)
	if err != nil {
		return OutcomeUnknown, fmt.Errorf("write artifact for %s: %w", display, err)
	}

	req := relay.PendingRequest{Definition: def, Args: args, FileStem: stem, FilePath: h.Path}
	if err := g.relay.Save(ctx, req); err != nil {
		if delErr := g.modules.Delete(h.Path); delErr != nil {
			log.ErrorErr(log.CatGenerate, "failed to roll back stub", delErr, "stem", stem)
		}
		return OutcomeUnknown, err
	}

	log.Info(log.CatGenerate, "wrote stub, awaiting recompile", "instantiation", display, "stem", stem)
	g.host.RequestRecompile("artifact " + stem)
	return OutcomePendingSecondPass, nil
}

// ResumePending completes a request parked by RequestArtifact, if any.
// It reports whether an artifact was registered.
func (g *Generator) ResumePending(ctx context.Context) (bool, error) {
	req, ok, err := g.relay.Peek(ctx)
	if err != nil || !ok {
		return false, err
	}
	display := req.DisplayName()

	if !g.modules.Exists(req.FileStem) {
		log.Warn(log.CatRelay, "abandoning pending request, stub is gone", "instantiation", display, "stem", req.FileStem)
		return false, g.relay.Clear(ctx)
	}

	h, err := g.modules.Lookup(req.FileStem)
	if errors.Is(err, module.ErrNoMeta) {
		log.Debug(log.CatRelay, "stub not compiled yet, leaving request parked", "stem", req.FileStem)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	def, known := g.reg.Definition(req.Definition.Name)
	if !known {
		log.Warn(log.CatRelay, "definition not registered, leaving request parked", "definition", req.Definition.Name)
		return false, nil
	}

	if g.reg.ContainsKey(def.Name, req.Args) {
		log.Debug(log.CatRelay, "request already registered", "instantiation", display)
		return false, g.relay.Clear(ctx)
	}
	if err := g.reg.Add(def, req.Args, artifactOf(h)); err != nil {
		return false, err
	}
	log.Info(log.CatRelay, "registered pending artifact", "instantiation", display, "stem", h.Stem)
	return true, g.relay.Clear(ctx)
}

// ReplaceArtifact moves the artifact identified by id to newName, keeping id.
func (g *Generator) ReplaceArtifact(ctx context.Context, id, newName string, regenerate func(path string) error) (module.Handle, error) {
	return g.modules.ReplaceModule(ctx, id, newName, regenerate)
}

// RegenerateForRename rewrites the stub of inst after its definition was
// renamed. inst carries the new definition and the old artifact. The opaque
// identifier is preserved and the registry updated in place.
func (g *Generator) RegenerateForRename(ctx context.Context, inst registry.Instantiation) error {
	def, args := inst.Definition, inst.Args
	stem := g.stemFor(def, args)
	src, err := g.Render(stem, def, args)
	if err != nil {
		return err
	}

	if stem == inst.Artifact.TypeName {
		existing, err := g.modules.ReadStub(stem)
		if err == nil && bytes.Equal(existing, src) {
			return nil
		}
		if err := module.WriteAtomic(g.modules.StubPath(stem), src); err != nil {
			return fmt.Errorf("rewrite %s: %w", stem, err)
		}
		g.host.RequestRecompile("rewrote " + stem)
		return nil
	}

	h, err := g.ReplaceArtifact(ctx, inst.Artifact.ID, stem, func(path string) error {
		return module.WriteAtomic(path, src)
	})
	if errors.Is(err, module.ErrNoMeta) {
		log.Warn(log.CatGenerate, "artifact identity lost, compiling fresh module", "instantiation", inst.DisplayName())
		if delErr := g.modules.Delete(g.modules.StubPath(inst.Artifact.TypeName)); delErr != nil {
			log.ErrorErr(log.CatGenerate, "failed to remove stub without identity", delErr, "stem", inst.Artifact.TypeName)
		}
		h, err = g.modules.CompileConcreteModule(ctx, stem, src)
	}
	if err != nil {
		return fmt.Errorf("regenerate %s: %w", inst.DisplayName(), err)
	}

	if err := g.reg.UpdateArtifactIdentity(def.Name, args, artifactOf(h)); err != nil {
		return err
	}
	g.host.RequestRecompile("renamed " + inst.Artifact.TypeName + " to " + stem)
	return nil
}

// DeleteArtifact removes the stub and sidecar of inst. The registry is not touched.
func (g *Generator) DeleteArtifact(inst registry.Instantiation) error {
	if err := g.modules.Delete(g.modules.StubPath(inst.Artifact.TypeName)); err != nil {
		return err
	}
	log.Info(log.CatGenerate, "deleted artifact", "instantiation", inst.DisplayName(), "stem", inst.Artifact.TypeName)
	return nil
}

func artifactOf(h module.Handle) registry.Artifact {
	return registry.Artifact{ID: h.GUID, TypeName: h.Stem, ModulePath: h.Path}
}
