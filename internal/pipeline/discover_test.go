package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geninst/internal/crawler"
	"geninst/internal/extractor"
	"geninst/internal/identity"
)

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, src := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(src), 0o644))
	}
	return root
}

func TestSourceDiscoverer(t *testing.T) {
	root := writeProject(t, map[string]string{
		"go.mod": "module example.com/app\n",
		"models/models.go": `package models

import "fmt"

type User struct{ Name string }

// geninst:generate menu=Models order=2
type Pair[K comparable, V fmt.Stringer] struct {
	Key   K
	Value V
}

type Unmarked[T any] []T
`,
		"cmd/tool/main.go": `package main

// geninst:generate
type Local[T any] struct{ v T }

func main() {}
`,
	})

	d := NewSourceDiscoverer(crawler.NewCrawler(extractor.NewExtractor()), root, "")
	ctx := context.Background()

	declared, err := d.EnumerateDeclaredGenericDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, declared, 1)

	pair := declared[0]
	assert.Equal(t, "example.com/app/models.Pair", pair.Definition.Name)
	assert.Equal(t, "models", pair.Definition.PackageName)
	assert.Equal(t, []string{"K", "V"}, pair.Definition.ArgNames)
	assert.Equal(t, extractor.SourceID("models/models.go", 0), pair.Definition.SourceID)
	assert.Equal(t, []identity.Constraint{{Name: "comparable"}, {Path: "fmt", Name: "Stringer"}}, pair.Constraints)
	assert.Equal(t, "Models", pair.Menu.Name)
	assert.Equal(t, 2, pair.Menu.Order)

	known, err := d.KnownTypes(ctx)
	require.NoError(t, err)
	assert.True(t, known.Live(identity.MustParseTypeRef("example.com/app/models.User")))
	assert.False(t, known.Live(identity.MustParseTypeRef("example.com/app/models.Order")))
}
