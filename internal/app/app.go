// Package app wires configuration, persistence and the reconcile pipeline
// into one object the CLI drives.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"geninst/internal/config"
	"geninst/internal/crawler"
	"geninst/internal/dispatch"
	"geninst/internal/extractor"
	"geninst/internal/generator"
	"geninst/internal/host"
	"geninst/internal/identity"
	"geninst/internal/janitor"
	"geninst/internal/log"
	"geninst/internal/module"
	"geninst/internal/pipeline"
	"geninst/internal/registry"
	"geninst/internal/relay"
	"geninst/internal/storage"
	"geninst/internal/tracing"
)

var (
	ErrUnknownDefinition   = errors.New("app: unknown definition")
	ErrAmbiguousDefinition = errors.New("app: ambiguous definition")
)

// App owns every long-lived component.
type App struct {
	Config     *config.Config
	Backend    storage.Backend
	Registry   *registry.Registry
	Flusher    *storage.RegistryFlusher
	Modules    *module.Store
	Relay      *relay.Relay
	Toolchain  *host.Toolchain
	Generator  *generator.Generator
	Dispatch   *dispatch.File
	Reconciler *pipeline.Reconciler
	Janitor    *janitor.Janitor

	tracing  *tracing.Provider
	closeLog func()
}

// Open builds the App for cfg and restores persisted state.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	level, _ := log.ParseLevel(cfg.Log.Level)
	closeLog, err := log.Init(cfg.Log.File, level)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, closeLog: closeLog}
	if err := a.open(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context) error {
	cfg := a.Config

	tp, err := tracing.NewProvider(ctx, tracing.Config{Exporter: cfg.Tracing.Exporter, Endpoint: cfg.Tracing.Endpoint})
	if err != nil {
		return err
	}
	a.tracing = tp

	backend, err := storage.Open(cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.Backend = backend

	a.Registry = registry.New()
	a.Flusher = storage.NewRegistryFlusher(a.Registry, backend)
	if err := a.Flusher.Load(ctx); err != nil {
		if !errors.Is(err, registry.ErrCorruptPersistedState) {
			return fmt.Errorf("load registry: %w", err)
		}
		log.ErrorErr(log.CatStore, "persisted registry is corrupt, starting empty", err)
	}

	a.Modules = module.NewStore(cfg.GeneratedDirAbs())
	a.Relay = relay.New(backend)
	a.Toolchain = host.NewToolchain(cfg.Project.Root, cfg.Build.Command)
	a.Generator = generator.New(a.Registry, a.Modules, a.Relay, a.Toolchain, cfg.Project.GeneratedPackage)

	a.Dispatch = dispatch.NewFile(cfg.DispatchFileAbs(), cfg.Project.GeneratedPackage, backend)
	if err := a.Dispatch.Load(ctx); err != nil {
		return err
	}

	ignored := append([]string{cfg.Project.GeneratedDir}, cfg.Project.Ignore...)
	discover := pipeline.NewSourceDiscoverer(
		crawler.NewCrawler(extractor.NewExtractor(), ignored...),
		cfg.Project.Root, cfg.Project.ModulePath,
	)
	a.Reconciler = pipeline.NewReconciler(a.Registry, a.Generator, a.Dispatch, discover, a.Flusher, tp.Tracer())
	a.Janitor = janitor.New(cfg.Project.Root, a.Registry, a.Modules, a.Dispatch, nil, a.Toolchain, a.Flusher)
	return nil
}

// Close flushes and releases everything Open acquired.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Flusher != nil {
		errs = append(errs, a.Flusher.Flush(ctx))
	}
	if a.Backend != nil {
		errs = append(errs, a.Backend.Close())
	}
	if a.tracing != nil {
		errs = append(errs, a.tracing.Shutdown(ctx))
	}
	if a.closeLog != nil {
		a.closeLog()
	}
	return errors.Join(errs...)
}

// CycleResult describes one reconcile cycle including its builds.
type CycleResult struct {
	Reports []*pipeline.Report
	Builds  int
	BuildOK bool
	Cleaned int
	Output  string // output of the last failed build
}

// Report is the last reconcile report of the cycle.
func (r *CycleResult) Report() *pipeline.Report {
	if len(r.Reports) == 0 {
		return nil
	}
	return r.Reports[len(r.Reports)-1]
}

// Cycle reconciles once. With build set it then builds the project until the
// build succeeds with no recompile pending, running the janitor on failures
// and reconciling again after each successful build. At most MaxPasses builds
// are run.
func (a *App) Cycle(ctx context.Context, build bool) (*CycleResult, error) {
	res := &CycleResult{}
	rep, err := a.Reconciler.Run(ctx)
	if err != nil {
		return res, err
	}
	res.Reports = append(res.Reports, rep)
	if !build {
		return res, nil
	}

	for res.Builds < max(1, a.Config.Build.MaxPasses) {
		a.Toolchain.TakeRequests()
		out, err := a.Toolchain.Build(ctx)
		if err != nil {
			return res, err
		}
		res.Builds++

		if !out.OK {
			res.Output = out.Output
			cleaned, err := a.Janitor.Run(ctx, janitor.Stream(out.Diagnostics))
			if err != nil {
				return res, err
			}
			res.Cleaned += cleaned
			if cleaned == 0 {
				log.Warn(log.CatHost, "build failed for reasons outside generated code", "diagnostics", len(out.Diagnostics))
				return res, nil
			}
			continue
		}

		res.BuildOK = true
		res.Output = ""
		rep, err := a.Reconciler.Run(ctx)
		if err != nil {
			return res, err
		}
		res.Reports = append(res.Reports, rep)
		if !a.Toolchain.Pending() {
			return res, nil
		}
		res.BuildOK = false
	}
	log.Warn(log.CatHost, "giving up after maximum build passes", "passes", res.Builds)
	return res, nil
}

// Request asks for the artifact of definition[args]. definition may be the
// fully qualified name, "pkg.Type" or a unique bare type name.
func (a *App) Request(ctx context.Context, definition string, args []string) (generator.Outcome, error) {
	def, err := a.FindDefinition(definition)
	if err != nil {
		return generator.OutcomeUnknown, err
	}
	refs, err := identity.ParseTypeRefs(args)
	if err != nil {
		return generator.OutcomeUnknown, err
	}
	outcome, err := a.Generator.RequestArtifact(ctx, def, refs)
	if err != nil {
		return generator.OutcomeUnknown, err
	}
	return outcome, a.Flusher.Flush(ctx)
}

// FindDefinition resolves a user supplied definition name.
func (a *App) FindDefinition(name string) (registry.Definition, error) {
	if def, ok := a.Registry.Definition(name); ok {
		return def, nil
	}
	var matches []registry.Definition
	for _, def := range a.Registry.Definitions() {
		if def.ID().Short() == name || def.TypeName == name {
			matches = append(matches, def)
		}
	}
	switch len(matches) {
	case 0:
		return registry.Definition{}, fmt.Errorf("%w: %s", ErrUnknownDefinition, name)
	case 1:
		return matches[0], nil
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Name
		}
		sort.Strings(names)
		return registry.Definition{}, fmt.Errorf("%w: %s matches %s", ErrAmbiguousDefinition, name, strings.Join(names, ", "))
	}
}

// Clean feeds toolchain output to the janitor.
func (a *App) Clean(ctx context.Context, diags []janitor.Diagnostic) (int, error) {
	return a.Janitor.Run(ctx, janitor.Stream(diags))
}
