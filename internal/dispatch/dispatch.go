// Package dispatch maintains the generated file that exposes one constructor
// per generic definition, so selector-style tooling can enumerate them.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/dave/jennifer/jen"

	"geninst/internal/identity"
	"geninst/internal/log"
	"geninst/internal/module"
	"geninst/internal/registry"
)

var ErrDuplicateMethod = errors.New("dispatch: duplicate method")

// Menu carries the optional directive keys of a definition.
type Menu struct {
	Name     string `json:"name,omitempty" msgpack:"name,omitempty"`
	FileName string `json:"file_name,omitempty" msgpack:"file_name,omitempty"`
	Order    int    `json:"order,omitempty" msgpack:"order,omitempty"`
}

// Method is one constructor in the dispatch file.
type Method struct {
	Key         string                `json:"key" msgpack:"key"`
	Definition  registry.Definition   `json:"definition" msgpack:"definition"`
	Constraints []identity.Constraint `json:"constraints" msgpack:"constraints"`
	Menu        Menu                  `json:"menu" msgpack:"menu"`
}

// NewMethod builds the method for def. Missing constraints default to any.
func NewMethod(def registry.Definition, constraints []identity.Constraint, menu Menu) Method {
	cs := make([]identity.Constraint, def.Arity())
	for i := range cs {
		cs[i] = identity.Any
		if i < len(constraints) && constraints[i] != (identity.Constraint{}) {
			cs[i] = constraints[i]
		}
	}
	return Method{Key: def.MethodKey(), Definition: def, Constraints: cs, Menu: menu}
}

// MethodStore persists the method list between runs.
type MethodStore interface {
	LoadMethods(ctx context.Context) ([]Method, error)
	SaveMethods(ctx context.Context, methods []Method) error
}

// File is the dispatch file and its method list.
type File struct {
	path    string
	pkgName string
	store   MethodStore
	methods []Method
	dirty   bool
}

func NewFile(path, pkgName string, store MethodStore) *File {
	return &File{path: path, pkgName: pkgName, store: store}
}

// Path is where the dispatch file is written.
func (f *File) Path() string { return f.path }

// Load replaces the in-memory method list with the persisted one.
func (f *File) Load(ctx context.Context) error {
	methods, err := f.store.LoadMethods(ctx)
	if err != nil {
		return fmt.Errorf("load dispatch methods: %w", err)
	}
	f.methods = methods
	f.dirty = false
	return nil
}

// Methods returns the current method list.
func (f *File) Methods() []Method { return slices.Clone(f.methods) }

func (f *File) index(key string) int {
	return slices.IndexFunc(f.methods, func(m Method) bool { return m.Key == key })
}

// Has reports whether a method with key exists.
func (f *File) Has(key string) bool { return f.index(key) >= 0 }

// Add appends m. Keys are unique.
func (f *File) Add(m Method) error {
	if f.Has(m.Key) {
		return fmt.Errorf("%w: %s", ErrDuplicateMethod, m.Key)
	}
	f.methods = append(f.methods, m)
	f.dirty = true
	return nil
}

// Update replaces the method stored under oldKey with m, adding m if oldKey is unknown.
func (f *File) Update(oldKey string, m Method) error {
	i := f.index(oldKey)
	if i < 0 {
		return f.Add(m)
	}
	if m.Key != oldKey && f.Has(m.Key) {
		return fmt.Errorf("%w: %s", ErrDuplicateMethod, m.Key)
	}
	if sameMethod(f.methods[i], m) {
		return nil
	}
	f.methods[i] = m
	f.dirty = true
	return nil
}

func sameMethod(a, b Method) bool {
	return a.Key == b.Key && a.Menu == b.Menu &&
		a.Definition.Name == b.Definition.Name &&
		a.Definition.PackageName == b.Definition.PackageName &&
		a.Definition.SourceID == b.Definition.SourceID &&
		slices.Equal(a.Definition.ArgNames, b.Definition.ArgNames) &&
		slices.Equal(a.Constraints, b.Constraints)
}

// Remove deletes the method with key and reports whether it existed.
func (f *File) Remove(key string) bool {
	i := f.index(key)
	if i < 0 {
		return false
	}
	f.methods = slices.Delete(f.methods, i, i+1)
	f.dirty = true
	return true
}

// Sync persists the method list if it changed and rewrites the file when the
// rendered bytes differ from disk. It reports whether the file was written.
func (f *File) Sync(ctx context.Context) (bool, error) {
	if f.dirty {
		if err := f.store.SaveMethods(ctx, f.methods); err != nil {
			return false, fmt.Errorf("save dispatch methods: %w", err)
		}
		f.dirty = false
	}

	current, err := os.ReadFile(f.path)
	exists := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if !exists && len(f.methods) == 0 {
		return false, nil
	}

	src, err := f.Render()
	if err != nil {
		return false, err
	}
	if exists && bytes.Equal(current, src) {
		return false, nil
	}
	if err := module.WriteAtomic(f.path, src); err != nil {
		return false, fmt.Errorf("write dispatch file: %w", err)
	}
	log.Info(log.CatDispatch, "dispatch file written", "path", f.path, "methods", len(f.methods))
	return true, nil
}

// Render produces the dispatch file source.
func (f *File) Render() ([]byte, error) {
	methods := slices.Clone(f.methods)
	sort.SliceStable(methods, func(i, j int) bool {
		if methods[i].Menu.Order != methods[j].Menu.Order {
			return methods[i].Menu.Order < methods[j].Menu.Order
		}
		return methods[i].Key < methods[j].Key
	})

	file := jen.NewFile(f.pkgName)
	file.HeaderComment("Code generated by geninst. DO NOT EDIT.")
	for _, m := range methods {
		def := m.Definition
		file.ImportName(def.PackagePath, def.PackageName)

		params := make([]jen.Code, def.Arity())
		names := make([]jen.Code, def.Arity())
		for i, name := range def.ArgNames {
			c := identity.Any
			if i < len(m.Constraints) {
				c = m.Constraints[i]
			}
			params[i] = jen.Id(name).Add(constraintCode(c))
			names[i] = jen.Id(name)
		}

		for _, line := range methodDoc(m) {
			file.Comment(line)
		}
		file.Func().Id(m.Key).Types(params...).Params().Op("*").Qual(def.PackagePath, def.TypeName).Types(names...).Block(
			jen.Return(jen.New(jen.Qual(def.PackagePath, def.TypeName).Types(names...))),
		)
	}

	var buf bytes.Buffer
	if err := file.Render(&buf); err != nil {
		return nil, fmt.Errorf("render dispatch file: %w", err)
	}
	return buf.Bytes(), nil
}

func constraintCode(c identity.Constraint) jen.Code {
	switch {
	case c.Raw != "":
		return jen.Op(c.Raw)
	case c.Path == "":
		return jen.Id(c.Name)
	default:
		return jen.Qual(c.Path, c.Name)
	}
}

func methodDoc(m Method) []string {
	lines := []string{fmt.Sprintf("%s creates a %s.%s.", m.Key, m.Definition.PackageName, m.Definition.TypeName)}
	var opts []string
	if m.Menu.Name != "" {
		opts = append(opts, "menu="+m.Menu.Name)
	}
	if m.Menu.FileName != "" {
		opts = append(opts, "file="+m.Menu.FileName)
	}
	if m.Menu.Order != 0 {
		opts = append(opts, fmt.Sprintf("order=%d", m.Menu.Order))
	}
	if len(opts) > 0 {
		lines = append(lines, strings.Join(opts, " "))
	}
	return lines
}
