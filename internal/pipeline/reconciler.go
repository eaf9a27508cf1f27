// Package pipeline reconciles the registry with the generic definitions the
// source tree currently declares. One Run corresponds to one recompilation.
package pipeline

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"geninst/internal/dispatch"
	"geninst/internal/generator"
	"geninst/internal/log"
	"geninst/internal/registry"
)

// Flusher persists the registry after a run.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Failure records a definition that could not be reconciled.
type Failure struct {
	Definition string
	Err        error
}

func (f Failure) Error() string {
	if f.Definition == "" {
		return f.Err.Error()
	}
	return f.Definition + ": " + f.Err.Error()
}

// Report summarizes one reconcile run.
type Report struct {
	Added                 []string
	Renamed               []string // "old -> new"
	ArgsUpdated           []string
	Removed               []string
	InstantiationsRemoved int
	Resumed               bool
	DispatchWritten       bool
	Failures              []Failure
}

// Changed reports whether the run modified anything.
func (r *Report) Changed() bool {
	return len(r.Added)+len(r.Renamed)+len(r.ArgsUpdated)+len(r.Removed) > 0 ||
		r.InstantiationsRemoved > 0 || r.Resumed || r.DispatchWritten
}

func (r *Report) fail(def string, err error) {
	log.ErrorErr(log.CatReconcile, "reconcile failed for definition", err, "definition", def)
	r.Failures = append(r.Failures, Failure{Definition: def, Err: err})
}

// Reconciler brings the registry, the generated artifacts and the dispatch
// file in line with the declared definitions.
type Reconciler struct {
	reg      *registry.Registry
	gen      *generator.Generator
	dispatch *dispatch.File
	discover Discoverer
	flusher  Flusher
	tracer   trace.Tracer
}

// NewReconciler wires a reconciler. A nil tracer disables tracing and a nil
// flusher skips persistence.
func NewReconciler(reg *registry.Registry, gen *generator.Generator, disp *dispatch.File, discover Discoverer, flusher Flusher, tracer trace.Tracer) *Reconciler {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	return &Reconciler{reg: reg, gen: gen, dispatch: disp, discover: discover, flusher: flusher, tracer: tracer}
}

// run carries the per-run bookkeeping between stages.
type run struct {
	declared []Declared
	byName   map[string]Declared
	bySource map[string]Declared
	renamed  map[string]string // new name -> old name
	report   *Report
}

// Run performs one reconcile cycle. A failing enumeration aborts the run
// before anything is touched; failures of single definitions are recorded in
// the report and the run continues.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	ctx, span := r.tracer.Start(ctx, "reconcile", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	report, err := r.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("reconcile.added", len(report.Added)),
		attribute.Int("reconcile.renamed", len(report.Renamed)),
		attribute.Int("reconcile.removed", len(report.Removed)),
		attribute.Int("reconcile.instantiations_removed", report.InstantiationsRemoved),
		attribute.Int("reconcile.failures", len(report.Failures)),
		attribute.Bool("reconcile.resumed", report.Resumed),
	)
	if len(report.Failures) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d definitions failed", len(report.Failures)))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return report, nil
}

func (r *Reconciler) run(ctx context.Context) (*Report, error) {
	declared, err := r.discover.EnumerateDeclaredGenericDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate definitions: %w", err)
	}

	st := &run{
		declared: declared,
		byName:   make(map[string]Declared, len(declared)),
		bySource: make(map[string]Declared, len(declared)),
		renamed:  make(map[string]string),
		report:   &Report{},
	}
	for _, d := range declared {
		st.byName[d.Definition.Name] = d
		if d.Definition.SourceID != "" {
			st.bySource[d.Definition.SourceID] = d
		}
	}

	r.renameStage(ctx, st)
	r.updateStage(ctx, st)
	r.addStage(st)
	r.removeStage(st)
	r.argumentTypeStage(ctx, st)
	r.resumeStage(ctx, st)
	r.dispatchStage(ctx, st)

	if r.flusher != nil {
		if err := r.flusher.Flush(ctx); err != nil {
			return st.report, fmt.Errorf("flush registry: %w", err)
		}
	}

	rep := st.report
	if rep.Changed() {
		log.Info(log.CatReconcile, "reconciled",
			"added", len(rep.Added), "renamed", len(rep.Renamed), "args_updated", len(rep.ArgsUpdated),
			"removed", len(rep.Removed), "instantiations_removed", rep.InstantiationsRemoved,
			"resumed", rep.Resumed, "failures", len(rep.Failures))
	} else {
		log.Debug(log.CatReconcile, "nothing to reconcile", "declared", len(declared))
	}
	return rep, nil
}

// renameStage moves registered definitions that are no longer declared under
// their name but whose declaration still exists under another one.
func (r *Reconciler) renameStage(ctx context.Context, st *run) {
	for _, def := range r.reg.Definitions() {
		if _, still := st.byName[def.Name]; still || def.SourceID == "" {
			continue
		}
		d, ok := st.bySource[def.SourceID]
		if !ok || r.reg.HasDefinition(d.Definition.Name) {
			continue
		}

		if d.Definition.Arity() != def.Arity() {
			st.report.InstantiationsRemoved += r.dropInstantiations(def.Name, r.reg.RemoveInstantiations(def.Name), st)
		}
		insts, err := r.reg.RenameDefinition(def.Name, d.Definition)
		if err != nil {
			st.report.fail(def.Name, err)
			continue
		}
		st.renamed[d.Definition.Name] = def.Name
		st.report.Renamed = append(st.report.Renamed, def.Name+" -> "+d.Definition.Name)
		log.Info(log.CatReconcile, "definition renamed", "from", def.Name, "to", d.Definition.Name, "instantiations", len(insts))

		for _, inst := range insts {
			if err := r.gen.RegenerateForRename(ctx, inst); err != nil {
				st.report.fail(d.Definition.Name, err)
			}
		}
	}
}

// updateStage applies changed type parameters and metadata to definitions
// that kept their name.
func (r *Reconciler) updateStage(ctx context.Context, st *run) {
	for _, d := range st.declared {
		name := d.Definition.Name
		current, ok := r.reg.Definition(name)
		if !ok {
			continue
		}
		if _, justRenamed := st.renamed[name]; justRenamed {
			continue
		}

		argsChanged := !slices.Equal(current.ArgNames, d.Definition.ArgNames)
		if current.Arity() != d.Definition.Arity() {
			removed := r.reg.RemoveInstantiations(name)
			st.report.InstantiationsRemoved += r.dropInstantiations(name, removed, st)
			log.Info(log.CatReconcile, "type parameter count changed, instantiations dropped",
				"definition", name, "from", current.Arity(), "to", d.Definition.Arity())
		}

		metaChanged := current.PackageName != d.Definition.PackageName || current.SourceID != d.Definition.SourceID
		if !metaChanged {
			if argsChanged {
				if err := r.reg.UpdateArgNames(name, d.Definition.ArgNames); err != nil {
					st.report.fail(name, err)
					continue
				}
				st.report.ArgsUpdated = append(st.report.ArgsUpdated, name)
			}
			continue
		}

		insts, err := r.reg.RenameDefinition(name, d.Definition)
		if err != nil {
			st.report.fail(name, err)
			continue
		}
		if argsChanged {
			st.report.ArgsUpdated = append(st.report.ArgsUpdated, name)
		}
		if current.PackageName == d.Definition.PackageName {
			continue
		}
		for _, inst := range insts {
			if err := r.gen.RegenerateForRename(ctx, inst); err != nil {
				st.report.fail(name, err)
			}
		}
	}
}

func (r *Reconciler) addStage(st *run) {
	for _, d := range st.declared {
		if r.reg.HasDefinition(d.Definition.Name) {
			continue
		}
		r.reg.AddDefinition(d.Definition)
		st.report.Added = append(st.report.Added, d.Definition.Name)
		log.Info(log.CatReconcile, "definition added", "definition", d.Definition.Name)
	}
}

func (r *Reconciler) removeStage(st *run) {
	for _, def := range r.reg.Definitions() {
		if _, declared := st.byName[def.Name]; declared {
			continue
		}
		removed := r.reg.RemoveDefinition(def.Name)
		st.report.InstantiationsRemoved += r.dropInstantiations(def.Name, removed, st)
		st.report.Removed = append(st.report.Removed, def.Name)
		log.Info(log.CatReconcile, "definition removed", "definition", def.Name, "instantiations", len(removed))
	}
}

// argumentTypeStage drops instantiations whose argument types were deleted
// from the module.
func (r *Reconciler) argumentTypeStage(ctx context.Context, st *run) {
	argTypes := r.reg.ArgumentTypes()
	if len(argTypes) == 0 {
		return
	}
	known, err := r.discover.KnownTypes(ctx)
	if err != nil {
		st.report.fail("", fmt.Errorf("known types: %w", err))
		return
	}
	for _, t := range argTypes {
		if known.Live(t) {
			continue
		}
		removed := r.reg.RemoveArgumentType(t)
		log.Info(log.CatReconcile, "argument type gone, dropping instantiations", "type", t.String(), "count", len(removed))
		st.report.InstantiationsRemoved += r.dropInstantiations(t.String(), removed, st)
	}
}

func (r *Reconciler) resumeStage(ctx context.Context, st *run) {
	resumed, err := r.gen.ResumePending(ctx)
	if err != nil {
		st.report.fail("", fmt.Errorf("resume pending request: %w", err))
		return
	}
	st.report.Resumed = resumed
}

// dispatchStage keeps exactly one dispatch method per registered definition.
func (r *Reconciler) dispatchStage(ctx context.Context, st *run) {
	if r.dispatch == nil {
		return
	}
	want := make(map[string]bool, len(st.declared))
	for _, d := range st.declared {
		def, ok := r.reg.Definition(d.Definition.Name)
		if !ok {
			continue
		}
		m := dispatch.NewMethod(def, d.Constraints, d.Menu)
		want[m.Key] = true

		oldKey := m.Key
		if oldName, renamed := st.renamed[def.Name]; renamed {
			if prev := r.methodFor(oldName); prev != "" {
				oldKey = prev
			}
		}
		if err := r.dispatch.Update(oldKey, m); err != nil {
			st.report.fail(def.Name, err)
		}
	}
	for _, m := range r.dispatch.Methods() {
		if !want[m.Key] {
			r.dispatch.Remove(m.Key)
		}
	}

	written, err := r.dispatch.Sync(ctx)
	if err != nil {
		st.report.fail("", err)
		return
	}
	st.report.DispatchWritten = written
}

func (r *Reconciler) methodFor(definitionName string) string {
	for _, m := range r.dispatch.Methods() {
		if m.Definition.Name == definitionName {
			return m.Key
		}
	}
	return ""
}

// dropInstantiations deletes the artifacts of removed instantiations and
// returns how many there were.
func (r *Reconciler) dropInstantiations(owner string, removed []registry.Instantiation, st *run) int {
	for _, inst := range removed {
		if err := r.gen.DeleteArtifact(inst); err != nil {
			st.report.fail(owner, err)
		}
	}
	return len(removed)
}
