package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseTypeRef(t *testing.T) {
	tests := []struct {
		in      string
		want    TypeRef
		wantErr bool
	}{
		{in: "int32", want: TypeRef{Name: "int32"}},
		{in: "example.com/app/models.User", want: TypeRef{Path: "example.com/app/models", Name: "User"}},
		{in: "*example.com/app/models.User", want: TypeRef{Prefix: "*", Path: "example.com/app/models", Name: "User"}},
		{in: "[]*time.Duration", want: TypeRef{Prefix: "[]*", Path: "time", Name: "Duration"}},
		{in: "", wantErr: true},
		{in: "map[string]int", wantErr: true},
		{in: "User", wantErr: true},
		{in: "example.com/app/models.", wantErr: true},
		{in: "example.com/app/models", wantErr: true},
		{in: "foo bar", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTypeRef(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedTypeName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestTypeRef_Short(t *testing.T) {
	assert.Equal(t, "models.User", MustParseTypeRef("example.com/app/models.User").Short())
	assert.Equal(t, "[]int", MustParseTypeRef("[]int").Short())
	assert.Equal(t, "*v2.Client", MustParseTypeRef("*example.com/sdk/v2.Client").Short())
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		def  string
		args []string
		want string
	}{
		{name: "predeclared", def: "example.com/app/models.Container", args: []string{"int32"}, want: "Container_Int32"},
		{name: "bare definition", def: "Container", args: []string{"int32"}, want: "Container_Int32"},
		{name: "qualified arg", def: "example.com/app/models.Pair", args: []string{"string", "example.com/app/models.User"}, want: "Pair_String_models_User"},
		{name: "modifiers", def: "example.com/app/models.Box", args: []string{"[]*example.com/app/models.User"}, want: "Box_Slice_Ptr_models_User"},
		{name: "dashed package", def: "example.com/app/models.Box", args: []string{"example.com/go-kit/log-fmt.Logger"}, want: "Box_log_fmt_Logger"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := ParseTypeRefs(tt.args)
			require.NoError(t, err)
			got := Encode(tt.def, args)
			assert.Equal(t, tt.want, got)
			assert.True(t, IsIdentifier(got))
		})
	}
}

func TestEncode_SameShortNameSameStem(t *testing.T) {
	a := []TypeRef{MustParseTypeRef("example.com/a/models.User")}
	b := []TypeRef{MustParseTypeRef("example.com/b/models.User")}

	assert.Equal(t, Encode("Box", a), Encode("Box", b))
	assert.NotEqual(t, TupleKey(a), TupleKey(b))
	assert.NotEqual(t, EncodeUnique("Box", a), EncodeUnique("Box", b))
}

func TestDisplayName(t *testing.T) {
	args := []TypeRef{MustParseTypeRef("example.com/app/models.User"), MustParseTypeRef("int")}
	assert.Equal(t, "Pair[models.User, int]", DisplayName("example.com/app/models.Pair", args))
}

func TestMethodKey(t *testing.T) {
	assert.Equal(t, "models_Container_1", MethodKey("models", "Container", 1))
	assert.Equal(t, "log_fmt_Pair_2", MethodKey("log-fmt", "Pair", 2))
}

func TestParseDefinitionID(t *testing.T) {
	id, err := ParseDefinitionID("example.com/app/models.Container")
	require.NoError(t, err)
	assert.Equal(t, DefinitionID{Path: "example.com/app/models", Name: "Container"}, id)
	assert.Equal(t, "models.Container", id.Short())

	_, err = ParseDefinitionID("int")
	assert.ErrorIs(t, err, ErrMalformedTypeName)
	_, err = ParseDefinitionID("*example.com/app/models.Container")
	assert.ErrorIs(t, err, ErrMalformedTypeName)
}

func typeRefGen() *rapid.Generator[TypeRef] {
	return rapid.Custom(func(t *rapid.T) TypeRef {
		prefix := rapid.SampledFrom([]string{"", "*", "[]", "[]*"}).Draw(t, "prefix")
		if rapid.Bool().Draw(t, "predeclared") {
			name := rapid.SampledFrom([]string{"int", "int32", "string", "bool", "float64", "byte"}).Draw(t, "builtin")
			return TypeRef{Prefix: prefix, Name: name}
		}
		segs := rapid.SliceOfN(rapid.StringMatching(`[a-z][a-z0-9-]{0,6}`), 1, 3).Draw(t, "segments")
		name := rapid.StringMatching(`[A-Z][A-Za-z0-9]{0,8}`).Draw(t, "name")
		return TypeRef{Prefix: prefix, Path: "example.com/" + strings.Join(segs, "/"), Name: name}
	})
}

func TestEncode_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		def := rapid.StringMatching(`[A-Z][A-Za-z0-9]{0,10}`).Draw(t, "def")
		a := rapid.SliceOfN(typeRefGen(), 1, 3).Draw(t, "a")
		b := rapid.SliceOfN(typeRefGen(), 1, 3).Draw(t, "b")

		stem := Encode(def, a)
		if !IsIdentifier(stem) {
			t.Fatalf("stem %q is not an identifier", stem)
		}
		if Encode(def, a) != stem {
			t.Fatalf("encode is not deterministic")
		}

		parsed, err := ParseTypeRefs(strings.Split(TupleKey(a), ","))
		if err != nil || !EqualTuples(parsed, a) {
			t.Fatalf("tuple key does not round-trip: %v", err)
		}

		if TupleKey(a) != TupleKey(b) && EncodeUnique(def, a) == EncodeUnique(def, b) {
			t.Fatalf("distinct tuples %q and %q share a unique stem", TupleKey(a), TupleKey(b))
		}
	})
}

func TestConstraint_String(t *testing.T) {
	assert.Equal(t, "any", Any.String())
	assert.Equal(t, "fmt.Stringer", Constraint{Path: "fmt", Name: "Stringer"}.String())
	assert.Equal(t, "~int | ~string", Constraint{Raw: "~int | ~string"}.String())
}
