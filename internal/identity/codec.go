package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

var unsafeChars = strings.NewReplacer(
	".", "_",
	"/", "_",
	"-", "_",
	"[", "_",
	"]", "_",
	",", "_",
	" ", "_",
	"`", "_",
	"~", "_",
	"*", "_",
)

// DefinitionID identifies a generic type declaration by package import path
// and type name, without any type arguments.
type DefinitionID struct {
	Path string `json:"path" yaml:"path" msgpack:"path"`
	Name string `json:"name" yaml:"name" msgpack:"name"`
}

// ParseDefinitionID parses "example.com/app/models.Container".
func ParseDefinitionID(s string) (DefinitionID, error) {
	ref, err := ParseTypeRef(s)
	if err != nil {
		return DefinitionID{}, err
	}
	if ref.Prefix != "" || ref.Path == "" {
		return DefinitionID{}, fmt.Errorf("%w: %q is not a package-qualified type", ErrMalformedTypeName, s)
	}
	return DefinitionID{Path: ref.Path, Name: ref.Name}, nil
}

// String returns the fully qualified definition name.
func (d DefinitionID) String() string {
	return d.Path + "." + d.Name
}

// PackageName returns the last element of the import path.
func (d DefinitionID) PackageName() string {
	return path.Base(d.Path)
}

// Short returns "pkg.Name".
func (d DefinitionID) Short() string {
	return d.PackageName() + "." + d.Name
}

// ClassSafe replaces structural separators with underscores so the result can
// be embedded into a Go identifier.
func ClassSafe(s string) string {
	s = unsafeChars.Replace(s)
	if s == "" {
		return "_"
	}
	if r, _ := utf8.DecodeRuneInString(s); unicode.IsDigit(r) {
		s = "_" + s
	}
	return s
}

// bareName drops the import path from a definition name:
// "example.com/app/models.Container" -> "Container".
func bareName(definitionName string) string {
	if i := strings.LastIndex(definitionName, "/"); i >= 0 {
		definitionName = definitionName[i+1:]
	}
	if i := strings.LastIndex(definitionName, "."); i >= 0 {
		definitionName = definitionName[i+1:]
	}
	return definitionName
}

func argStem(t TypeRef) string {
	var parts []string
	rest := t.Prefix
	for rest != "" {
		if strings.HasPrefix(rest, "[]") {
			parts = append(parts, "Slice")
			rest = rest[2:]
			continue
		}
		parts = append(parts, "Ptr")
		rest = rest[1:]
	}
	if t.Path == "" {
		parts = append(parts, capitalize(t.Name))
	} else {
		parts = append(parts, ClassSafe(t.PackageName())+"_"+t.Name)
	}
	return strings.Join(parts, "_")
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// Encode produces the artifact file stem and type name for an instantiation.
// Only the bare type path of each argument is significant, so two types with
// the same package name and type name map to the same stem.
func Encode(definitionName string, args []TypeRef) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, ClassSafe(bareName(definitionName)))
	for _, a := range args {
		parts = append(parts, argStem(a))
	}
	return ClassSafe(strings.Join(parts, "_"))
}

// EncodeUnique is Encode with a short hash of the full identities appended.
// It disambiguates stems whose short form is already claimed.
func EncodeUnique(definitionName string, args []TypeRef) string {
	sum := sha256.Sum256([]byte(definitionName + "|" + TupleKey(args)))
	return Encode(definitionName, args) + "_" + hex.EncodeToString(sum[:4])
}

// DisplayName renders the instantiation the way it is written in source,
// e.g. "Container[models.User, int]".
func DisplayName(definitionName string, args []TypeRef) string {
	shorts := make([]string, len(args))
	for i, a := range args {
		shorts[i] = a.Short()
	}
	return bareName(definitionName) + "[" + strings.Join(shorts, ", ") + "]"
}

// MethodKey names the dispatch method generated for a definition.
// The janitor derives the same key from compiler output, which only carries
// the package name.
func MethodKey(packageName, typeName string, arity int) string {
	return ClassSafe(packageName) + "_" + typeName + "_" + strconv.Itoa(arity)
}
