package host

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, root string, ignore ...string) <-chan struct{} {
	t.Helper()
	w, err := NewWatcher(WatchConfig{Root: root, Ignore: ignore, DebounceDur: 50 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })
	onChange, err := w.Start()
	require.NoError(t, err)
	return onChange
}

func TestWatcher_DebouncesSourceWrites(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "models", "container.go")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte("package models\n"), 0o644))

	onChange := startWatcher(t, root)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(src, []byte("package models\n\n"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-onChange:
	case <-time.After(time.Second):
		t.Fatal("expected notification but got timeout")
	}

	select {
	case <-onChange:
		t.Fatal("unexpected second notification")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_IgnoresGeneratedAndNonGoFiles(t *testing.T) {
	root := t.TempDir()
	gen := filepath.Join(root, "generated")
	require.NoError(t, os.MkdirAll(gen, 0o755))
	stub := filepath.Join(gen, "Container_Int32.go")
	notes := filepath.Join(root, "notes.txt")
	require.NoError(t, os.WriteFile(stub, []byte("package generated\n"), 0o644))
	require.NoError(t, os.WriteFile(notes, []byte("x"), 0o644))

	onChange := startWatcher(t, root, gen)

	require.NoError(t, os.WriteFile(stub, []byte("package generated\n\n"), 0o644))
	require.NoError(t, os.WriteFile(notes, []byte("y"), 0o644))

	select {
	case <-onChange:
		t.Fatal("unexpected notification")
	case <-time.After(200 * time.Millisecond):
	}
}
