package host

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolchain_BuildFailureYieldsDiagnostics(t *testing.T) {
	tc := NewToolchain(t.TempDir(), []string{"sh", "-c",
		"echo '# example.com/app/generated' >&2; echo 'generated/A.go:6:2: undefined: models.A' >&2; exit 1"})

	res, err := tc.Build(context.Background())
	require.NoError(t, err)
	assert.False(t, res.OK)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, "generated/A.go:6:2: undefined: models.A", res.Diagnostics[0].Message)
}

func TestToolchain_BuildSuccess(t *testing.T) {
	tc := NewToolchain(t.TempDir(), []string{"true"})
	res, err := tc.Build(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Empty(t, res.Diagnostics)
}

func TestToolchain_MissingCommand(t *testing.T) {
	_, err := NewToolchain(t.TempDir(), nil).Build(context.Background())
	assert.ErrorIs(t, err, ErrNoCommand)

	_, err = NewToolchain(t.TempDir(), []string{"/nonexistent/geninst-build"}).Build(context.Background())
	assert.Error(t, err)
}

func TestToolchain_RecompileRequests(t *testing.T) {
	tc := NewToolchain(".", []string{"true"})
	assert.False(t, tc.Pending())

	tc.RequestRecompile("artifact Container_Int32")
	tc.RequestRecompile("janitor cleaned 1")
	assert.True(t, tc.Pending())
	assert.Equal(t, []string{"artifact Container_Int32", "janitor cleaned 1"}, tc.TakeRequests())
	assert.False(t, tc.Pending())
}
