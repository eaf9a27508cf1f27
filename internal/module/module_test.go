package module

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stub = "package generated\n\ntype Container_Int32 struct{}\n"

func TestStore_CompileAndLookup(t *testing.T) {
	ctx := context.Background()
	s := NewStore(t.TempDir())

	h, err := s.CompileConcreteModule(ctx, "Container_Int32", []byte(stub))
	require.NoError(t, err)
	assert.NotEmpty(t, h.GUID)
	assert.FileExists(t, h.Path)
	assert.FileExists(t, h.MetaPath)

	got, err := s.Lookup("Container_Int32")
	require.NoError(t, err)
	assert.Equal(t, h, got)

	byID, err := s.LookupByID(h.GUID)
	require.NoError(t, err)
	assert.Equal(t, "Container_Int32", byID.Stem)

	stems, err := s.Stems()
	require.NoError(t, err)
	assert.Equal(t, []string{"Container_Int32"}, stems)
}

func TestStore_LookupMissing(t *testing.T) {
	s := NewStore(t.TempDir())

	_, err := s.Lookup("Nope")
	assert.ErrorIs(t, err, ErrNoModule)

	require.NoError(t, WriteAtomic(s.StubPath("Bare"), []byte(stub)))
	_, err = s.Lookup("Bare")
	assert.ErrorIs(t, err, ErrNoMeta)

	h, err := s.EnsureMeta("Bare")
	require.NoError(t, err)
	again, err := s.EnsureMeta("Bare")
	require.NoError(t, err)
	assert.Equal(t, h.GUID, again.GUID)
}

func TestStore_ReplaceModuleKeepsGUID(t *testing.T) {
	ctx := context.Background()
	s := NewStore(t.TempDir())
	h, err := s.CompileConcreteModule(ctx, "Container_Int32", []byte(stub))
	require.NoError(t, err)

	moved, err := s.ReplaceModule(ctx, h.GUID, "Box_Int32", func(path string) error {
		return os.WriteFile(path, []byte("package generated\n\ntype Box_Int32 struct{}\n"), 0o644)
	})
	require.NoError(t, err)

	assert.Equal(t, h.GUID, moved.GUID)
	assert.NoFileExists(t, h.Path)
	assert.NoFileExists(t, h.MetaPath)
	assert.FileExists(t, moved.Path)

	got, err := s.LookupByID(h.GUID)
	require.NoError(t, err)
	assert.Equal(t, "Box_Int32", got.Stem)
}

func TestStore_ReplaceModuleFailureKeepsOldPair(t *testing.T) {
	ctx := context.Background()
	s := NewStore(t.TempDir())
	h, err := s.CompileConcreteModule(ctx, "Container_Int32", []byte(stub))
	require.NoError(t, err)

	_, err = s.ReplaceModule(ctx, h.GUID, "Box_Int32", func(path string) error {
		require.NoError(t, os.WriteFile(path, []byte("package gen"), 0o644))
		return errors.New("disk full")
	})
	require.Error(t, err)

	got, err := s.LookupByID(h.GUID)
	require.NoError(t, err)
	assert.Equal(t, "Container_Int32", got.Stem)
	assert.FileExists(t, h.Path)
	assert.FileExists(t, h.MetaPath)
	assert.False(t, s.Exists("Box_Int32"))
}

func TestStore_ReplaceModuleSameStem(t *testing.T) {
	ctx := context.Background()
	s := NewStore(t.TempDir())
	h, err := s.CompileConcreteModule(ctx, "Container_Int32", []byte(stub))
	require.NoError(t, err)

	body := "package generated\n\ntype Container_Int32 struct{ x int }\n"
	moved, err := s.ReplaceModule(ctx, h.GUID, "Container_Int32", func(path string) error {
		return os.WriteFile(path, []byte(body), 0o644)
	})
	require.NoError(t, err)
	assert.Equal(t, h.GUID, moved.GUID)

	data, err := s.ReadStub("Container_Int32")
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
	assert.FileExists(t, h.MetaPath)
}

func TestStore_DeleteToleratesAbsence(t *testing.T) {
	ctx := context.Background()
	s := NewStore(t.TempDir())
	h, err := s.CompileConcreteModule(ctx, "Container_Int32", []byte(stub))
	require.NoError(t, err)

	require.NoError(t, s.Delete(h.Path))
	assert.False(t, s.Exists("Container_Int32"))
	require.NoError(t, s.Delete(h.Path))
}
