package generator

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"geninst/internal/module"
	"geninst/internal/registry"
)

// Drift describes a registered artifact whose stub no longer matches what
// would be generated today.
type Drift struct {
	Instantiation registry.Instantiation
	Missing       bool
	Diff          string
}

// Verify regenerates every registered stub in memory and compares it with disk.
func (g *Generator) Verify(ctx context.Context) ([]Drift, error) {
	var drifts []Drift
	for _, inst := range g.reg.All() {
		if err := ctx.Err(); err != nil {
			return drifts, err
		}
		stem := inst.Artifact.TypeName
		want, err := g.Render(stem, inst.Definition, inst.Args)
		if err != nil {
			return drifts, err
		}
		got, err := g.modules.ReadStub(stem)
		if errors.Is(err, module.ErrNoModule) {
			drifts = append(drifts, Drift{Instantiation: inst, Missing: true})
			continue
		}
		if err != nil {
			return drifts, err
		}
		if !bytes.Equal(got, want) {
			drifts = append(drifts, Drift{Instantiation: inst, Diff: lineDiff(string(got), string(want))})
		}
	}
	return drifts, nil
}

// lineDiff renders a minimal -/+ listing of the lines that differ.
func lineDiff(oldText, newText string) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder
	for _, d := range diffs {
		var mark string
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			mark = "-"
		case diffmatchpatch.DiffInsert:
			mark = "+"
		default:
			continue
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			sb.WriteString(mark + line)
			if !strings.HasSuffix(line, "\n") {
				sb.WriteByte('\n')
			}
		}
	}
	return sb.String()
}
