package crawler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"geninst/internal/extractor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrawler_ScanProject(t *testing.T) {
	root := filepath.Join("testdata", "proj")
	c := NewCrawler(extractor.NewExtractor(), "generated")

	project, err := c.ScanProject(context.Background(), root, "")
	require.NoError(t, err)
	assert.Equal(t, "example.com/app", project.ModulePath)

	byPath := make(map[string]ParsedFile)
	for _, f := range project.Files {
		byPath[f.RelPath] = f
	}

	t.Run("Skips tests, hidden and generated dirs", func(t *testing.T) {
		assert.Len(t, project.Files, 2)
		assert.NotContains(t, byPath, "models/container_test.go")
		assert.NotContains(t, byPath, "generated/Container_Int32.go")
		assert.NotContains(t, byPath, ".hidden/skip.go")
	})

	t.Run("Import paths follow directories", func(t *testing.T) {
		assert.Equal(t, "example.com/app/models", byPath["models/container.go"].ImportPath)
		assert.Equal(t, "example.com/app/internal/store", byPath["internal/store/cache.go"].ImportPath)
	})

	t.Run("Extracted declarations", func(t *testing.T) {
		info := byPath["internal/store/cache.go"].Info
		require.Len(t, info.Generic, 1)
		assert.Equal(t, "Cache", info.Generic[0].Name)
		assert.Equal(t, "Caches", info.Generic[0].Directive.Menu)
	})
}

func TestCrawler_CacheReusesUnchangedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/tmp\n"), 0o644))
	src := filepath.Join(dir, "box.go")
	require.NoError(t, os.WriteFile(src, []byte("package tmp\n\ntype Box[T any] struct{}\n"), 0o644))

	c := NewCrawler(extractor.NewExtractor())
	first, err := c.ScanProject(context.Background(), dir, "")
	require.NoError(t, err)
	second, err := c.ScanProject(context.Background(), dir, "")
	require.NoError(t, err)
	assert.Same(t, first.Files[0].Info, second.Files[0].Info)

	require.NoError(t, os.WriteFile(src, []byte("package tmp\n\ntype Crate[T any] struct{}\n"), 0o644))
	third, err := c.ScanProject(context.Background(), dir, "")
	require.NoError(t, err)
	assert.Equal(t, "Crate", third.Files[0].Info.Generic[0].Name)
	assert.Equal(t, "example.com/tmp", third.Files[0].ImportPath)
}

func TestModulePath_Missing(t *testing.T) {
	_, err := ModulePath(t.TempDir())
	assert.ErrorIs(t, err, ErrNoModule)
}
