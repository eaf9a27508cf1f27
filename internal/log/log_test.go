package log

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetMinLevel(level)
	SetEnabled(true)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetMinLevel(LevelInfo)
	})
	return &buf
}

func TestLog_Format(t *testing.T) {
	buf := capture(t, LevelDebug)

	Warn(CatRelay, "overwriting pending request", "previous", "Container[int32]", "orphan")

	line := buf.String()
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2} \[WARN\] \[relay\] overwriting pending request`, line)
	assert.Contains(t, line, "previous=Container[int32]")
	assert.Contains(t, line, "orphan=<missing>")
}

func TestLog_LevelFilter(t *testing.T) {
	buf := capture(t, LevelWarn)

	Debug(CatStore, "hidden")
	Info(CatStore, "hidden")
	ErrorErr(CatStore, "save failed", errors.New("disk full"))

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "error=disk full")
}

func TestLog_Disabled(t *testing.T) {
	buf := capture(t, LevelDebug)
	SetEnabled(false)
	t.Cleanup(func() { SetEnabled(true) })

	Error(CatJanitor, "dropped")
	assert.Empty(t, buf.String())
}

func TestLog_InitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geninst.log")
	cleanup, err := Init(path, LevelInfo)
	require.NoError(t, err)

	Info(CatConfig, "loaded", "path", "geninst.yaml")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[INFO] [config] loaded path=geninst.yaml")
}

func TestParseLevel(t *testing.T) {
	lvl, ok := ParseLevel("DEBUG")
	assert.True(t, ok)
	assert.Equal(t, LevelDebug, lvl)

	lvl, ok = ParseLevel("verbose")
	assert.False(t, ok)
	assert.Equal(t, LevelInfo, lvl)
}
