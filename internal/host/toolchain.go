// Package host drives the Go toolchain on behalf of the reconcile cycle:
// building the project, reporting its diagnostics and watching sources.
package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"sync"

	"geninst/internal/janitor"
	"geninst/internal/log"
)

var ErrNoCommand = errors.New("host: empty build command")

// BuildResult is the outcome of one build.
type BuildResult struct {
	OK          bool
	Diagnostics []janitor.Diagnostic
	Output      string
}

// Toolchain runs the build command and collects recompile requests.
type Toolchain struct {
	dir     string
	command []string

	mu       sync.Mutex
	requests []string
}

func NewToolchain(dir string, command []string) *Toolchain {
	return &Toolchain{dir: dir, command: slices.Clone(command)}
}

// RequestRecompile records that the sources changed and another build is due.
func (t *Toolchain) RequestRecompile(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = append(t.requests, reason)
	log.Debug(log.CatHost, "recompile requested", "reason", reason)
}

// Pending reports whether a recompile was requested since the last TakeRequests.
func (t *Toolchain) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests) > 0
}

// TakeRequests returns and clears the recorded requests.
func (t *Toolchain) TakeRequests() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	reqs := t.requests
	t.requests = nil
	return reqs
}

// Build runs the build command. A failing build is not an error: its output
// is returned as diagnostics. An error means the command could not run.
func (t *Toolchain) Build(ctx context.Context) (*BuildResult, error) {
	if len(t.command) == 0 {
		return nil, ErrNoCommand
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, t.command[0], t.command[1:]...)
	cmd.Dir = t.dir
	cmd.Stdout = &out
	cmd.Stderr = &out

	log.Info(log.CatHost, "building", "command", strings.Join(t.command, " "))
	err := cmd.Run()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("run %s: %w", t.command[0], err)
	}

	diags, scanErr := janitor.ReadDiagnostics(bytes.NewReader(out.Bytes()))
	if scanErr != nil {
		return nil, fmt.Errorf("read build output: %w", scanErr)
	}
	res := &BuildResult{OK: err == nil, Diagnostics: diags, Output: out.String()}
	if res.OK {
		log.Info(log.CatHost, "build succeeded")
	} else {
		log.Warn(log.CatHost, "build failed", "exit_code", exitErr.ExitCode(), "diagnostics", len(diags))
	}
	return res, nil
}
