package relay

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"geninst/internal/identity"
	"geninst/internal/log"
	"geninst/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSlot struct {
	req  *PendingRequest
	fail error
}

func (m *memSlot) LoadRelay(context.Context) (*PendingRequest, error) {
	if m.fail != nil {
		return nil, m.fail
	}
	return m.req, nil
}

func (m *memSlot) SaveRelay(_ context.Context, req *PendingRequest) error {
	if m.fail != nil {
		return m.fail
	}
	m.req = req
	return nil
}

func pending(arg string) PendingRequest {
	def := registry.NewDefinition(identity.DefinitionID{Path: "example.com/app/models", Name: "Container"}, "", []string{"T"}, "")
	args := []identity.TypeRef{identity.MustParseTypeRef(arg)}
	stem := identity.Encode(def.Name, args)
	return PendingRequest{Definition: def, Args: args, FileStem: stem, FilePath: "generated/" + stem + ".go"}
}

func TestRelay_SaveConsume(t *testing.T) {
	ctx := context.Background()
	r := New(&memSlot{})

	_, ok, err := r.TryConsume(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Save(ctx, pending("int32")))

	peeked, ok, err := r.Peek(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Container_Int32", peeked.FileStem)
	assert.False(t, peeked.RequestedAt.IsZero())

	got, ok, err := r.TryConsume(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Container[int32]", got.DisplayName())

	_, ok, err = r.Peek(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRelay_SaveOverwritesAndWarns(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	ctx := context.Background()
	r := New(&memSlot{})
	require.NoError(t, r.Save(ctx, pending("int32")))
	require.NoError(t, r.Save(ctx, pending("string")))

	got, ok, err := r.Peek(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Container_String", got.FileStem)
	assert.Contains(t, buf.String(), "abandoned=Container[int32]")
}

func TestRelay_SlotErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	r := New(&memSlot{fail: boom})

	assert.ErrorIs(t, r.Save(ctx, pending("int")), boom)
	_, _, err := r.TryConsume(ctx)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, r.Clear(ctx), boom)
}
