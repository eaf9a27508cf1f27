// Package janitor repairs the generated code after a failed build. Stubs
// that reference a generic definition which no longer exists, or whose type
// parameter count changed, are deleted together with their registry entries
// and dispatch methods so the next build can succeed.
package janitor

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"geninst/internal/dispatch"
	"geninst/internal/identity"
	"geninst/internal/log"
	"geninst/internal/module"
	"geninst/internal/registry"
)

// Recompiler schedules another build.
type Recompiler interface {
	RequestRecompile(reason string)
}

// Flusher persists the registry.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Janitor cleans generated files named by failed diagnostics.
type Janitor struct {
	root     string
	reg      *registry.Registry
	modules  *module.Store
	dispatch *dispatch.File
	parser   Parser
	host     Recompiler
	flusher  Flusher
}

// New creates a Janitor. root is the directory the toolchain ran in; relative
// paths in diagnostics are resolved against it. disp and flusher may be nil.
func New(root string, reg *registry.Registry, modules *module.Store, disp *dispatch.File, parser Parser, host Recompiler, flusher Flusher) *Janitor {
	if parser == nil {
		parser = GoParser{Root: root}
	}
	return &Janitor{root: root, reg: reg, modules: modules, dispatch: disp, parser: parser, host: host, flusher: flusher}
}

// Handle reacts to a single diagnostic and reports whether anything was
// cleaned. Diagnostics that are not missing-type errors inside a generated
// file are ignored.
func (j *Janitor) Handle(ctx context.Context, d Diagnostic) (bool, error) {
	f, ok := j.parser.Parse(d)
	if !ok {
		return false, nil
	}
	path := resolve(j.root, f.Path)

	if j.dispatch != nil && samePath(path, j.dispatch.Path()) {
		return j.handleDispatch(ctx, path, f)
	}
	if !samePath(filepath.Dir(path), j.modules.Dir()) || !strings.HasSuffix(path, module.StubExt) {
		return false, nil
	}
	return j.handleStub(path, f)
}

func (j *Janitor) handleStub(path string, f Failure) (bool, error) {
	stem := strings.TrimSuffix(filepath.Base(path), module.StubExt)
	cleaned := j.modules.Exists(stem)
	if err := j.modules.Delete(path); err != nil {
		return false, err
	}

	inst, registered := j.reg.RemoveByArtifactTypeName(stem)
	if registered {
		cleaned = true
		log.Info(log.CatJanitor, "dropped broken instantiation", "instantiation", inst.DisplayName(), "stem", stem)
	}

	pkg, arity := f.Package, f.Arity
	if registered {
		if pkg == "" {
			pkg = inst.Definition.PackageName
		}
		if arity < 0 {
			arity = len(inst.Args)
		}
	}
	if j.removeMethod(pkg, f.Type, arity) {
		cleaned = true
	}
	if cleaned {
		log.Info(log.CatJanitor, "cleaned generated stub", "path", path, "type", f.Type)
	}
	return cleaned, nil
}

var funcKeyRe = regexp.MustCompile(`^func (\w+)\[`)

func (j *Janitor) handleDispatch(ctx context.Context, path string, f Failure) (bool, error) {
	key := ""
	if lines, err := readLines(path); err == nil {
		for i := min(f.Line, len(lines)) - 1; i >= 0; i-- {
			if m := funcKeyRe.FindStringSubmatch(lines[i]); m != nil {
				key = m[1]
				break
			}
		}
	}
	if key == "" && f.Package != "" && f.Arity >= 0 {
		key = identity.MethodKey(f.Package, f.Type, f.Arity)
	}
	if key == "" || !j.dispatch.Remove(key) {
		return false, nil
	}
	log.Info(log.CatJanitor, "removed broken dispatch method", "method", key)
	if _, err := j.dispatch.Sync(ctx); err != nil {
		return true, err
	}
	return true, nil
}

func (j *Janitor) removeMethod(pkg, typ string, arity int) bool {
	if j.dispatch == nil || pkg == "" || arity < 0 {
		return false
	}
	key := identity.MethodKey(pkg, typ, arity)
	if !j.dispatch.Remove(key) {
		return false
	}
	log.Info(log.CatJanitor, "removed dispatch method", "method", key)
	return true
}

// Run handles every diagnostic from the stream until it is closed and
// returns how many cleaned something. When anything was cleaned the
// registry and dispatch file are persisted and one recompile is requested.
func (j *Janitor) Run(ctx context.Context, diags <-chan Diagnostic) (int, error) {
	cleaned := 0
	var firstErr error
loop:
	for {
		select {
		case <-ctx.Done():
			return cleaned, ctx.Err()
		case d, ok := <-diags:
			if !ok {
				break loop
			}
			did, err := j.Handle(ctx, d)
			if err != nil {
				log.ErrorErr(log.CatJanitor, "cleanup failed", err, "diagnostic", d.Message)
				if firstErr == nil {
					firstErr = err
				}
			}
			if did {
				cleaned++
			}
		}
	}
	if cleaned == 0 {
		return 0, firstErr
	}

	if j.dispatch != nil {
		if _, err := j.dispatch.Sync(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if j.flusher != nil {
		if err := j.flusher.Flush(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush registry: %w", err)
		}
	}
	if j.host != nil {
		j.host.RequestRecompile(fmt.Sprintf("janitor cleaned %d", cleaned))
	}
	return cleaned, firstErr
}

// Stream feeds diags into a channel for Run.
func Stream(diags []Diagnostic) <-chan Diagnostic {
	ch := make(chan Diagnostic, len(diags))
	for _, d := range diags {
		ch <- d
	}
	close(ch)
	return ch
}

func resolve(root, p string) string {
	if filepath.IsAbs(p) || root == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}

func samePath(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return aa == bb
}
