package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"geninst/internal/crawler"
	"geninst/internal/dispatch"
	"geninst/internal/extractor"
	"geninst/internal/identity"
	"geninst/internal/log"
	"geninst/internal/registry"
)

// Declared is one generic definition found in source that opted in to
// instantiation.
type Declared struct {
	Definition  registry.Definition
	Constraints []identity.Constraint
	Menu        dispatch.Menu
}

// Discoverer enumerates what the current source tree declares.
type Discoverer interface {
	EnumerateDeclaredGenericDefinitions(ctx context.Context) ([]Declared, error)
	KnownTypes(ctx context.Context) (*TypeSet, error)
}

// TypeSet is the set of named types declared inside the module.
type TypeSet struct {
	modulePath string
	names      map[string]bool
}

// NewTypeSet builds a TypeSet for modulePath from fully qualified type names.
func NewTypeSet(modulePath string, names ...string) *TypeSet {
	ts := &TypeSet{modulePath: modulePath, names: make(map[string]bool, len(names))}
	for _, n := range names {
		ts.names[n] = true
	}
	return ts
}

// Live reports whether t can still be referenced. Predeclared types and
// types outside the module are assumed to exist.
func (ts *TypeSet) Live(t identity.TypeRef) bool {
	base := t.Base()
	if base.IsPredeclared() || base.Path == "" {
		return true
	}
	if base.Path != ts.modulePath && !strings.HasPrefix(base.Path, ts.modulePath+"/") {
		return true
	}
	return ts.names[base.String()]
}

// Len is the number of module-local types.
func (ts *TypeSet) Len() int { return len(ts.names) }

// SourceDiscoverer discovers definitions by scanning the project with a crawler.
// A scan is shared between the two queries of one reconcile run.
type SourceDiscoverer struct {
	crawler    *crawler.Crawler
	root       string
	modulePath string

	mu   sync.Mutex
	last *crawler.Project
}

func NewSourceDiscoverer(c *crawler.Crawler, root, modulePath string) *SourceDiscoverer {
	return &SourceDiscoverer{crawler: c, root: root, modulePath: modulePath}
}

func (d *SourceDiscoverer) scan(ctx context.Context, fresh bool) (*crawler.Project, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last != nil && !fresh {
		return d.last, nil
	}
	project, err := d.crawler.ScanProject(ctx, d.root, d.modulePath)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", d.root, err)
	}
	d.modulePath = project.ModulePath
	d.last = project
	return project, nil
}

// EnumerateDeclaredGenericDefinitions rescans the tree and returns every
// marked generic declaration outside package main.
func (d *SourceDiscoverer) EnumerateDeclaredGenericDefinitions(ctx context.Context) ([]Declared, error) {
	project, err := d.scan(ctx, true)
	if err != nil {
		return nil, err
	}

	var out []Declared
	for _, f := range project.Files {
		if f.Info.Package == "main" {
			continue
		}
		for _, decl := range f.Info.Generic {
			if !decl.Marked() {
				continue
			}
			out = append(out, declaredFrom(f, decl))
		}
	}
	log.Debug(log.CatReconcile, "enumerated definitions", "files", len(project.Files), "declared", len(out))
	return out, nil
}

func declaredFrom(f crawler.ParsedFile, decl extractor.GenericDecl) Declared {
	id := identity.DefinitionID{Path: f.ImportPath, Name: decl.Name}
	def := registry.NewDefinition(id, f.Info.Package, decl.ArgNames(), extractor.SourceID(f.RelPath, decl.Ordinal))

	constraints := make([]identity.Constraint, len(decl.TypeParams))
	for i, p := range decl.TypeParams {
		constraints[i] = f.Info.ResolveConstraint(p.Constraint, f.ImportPath)
	}
	return Declared{
		Definition:  def,
		Constraints: constraints,
		Menu:        dispatch.Menu{Name: decl.Directive.Menu, FileName: decl.Directive.File, Order: decl.Directive.Order},
	}
}

// KnownTypes returns the module-local types of the most recent scan.
func (d *SourceDiscoverer) KnownTypes(ctx context.Context) (*TypeSet, error) {
	project, err := d.scan(ctx, false)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, f := range project.Files {
		for _, t := range f.Info.Types {
			names = append(names, f.ImportPath+"."+t)
		}
	}
	return NewTypeSet(project.ModulePath, names...), nil
}
