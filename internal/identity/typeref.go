package identity

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode"
)

var (
	// ErrMalformedTypeName is returned when a type name cannot be parsed into a TypeRef.
	ErrMalformedTypeName = errors.New("identity: malformed type name")
)

var predeclared = map[string]bool{
	"any": true, "bool": true, "byte": true, "comparable": true, "complex64": true,
	"complex128": true, "error": true, "float32": true, "float64": true, "int": true,
	"int8": true, "int16": true, "int32": true, "int64": true, "rune": true,
	"string": true, "uint": true, "uint8": true, "uint16": true, "uint32": true,
	"uint64": true, "uintptr": true,
}

// IsPredeclared reports whether name is one of Go's predeclared type identifiers.
func IsPredeclared(name string) bool {
	return predeclared[name]
}

// TypeRef identifies a concrete argument type.
// Path is the import path of the declaring package and is empty for predeclared types.
// Prefix holds pointer and slice modifiers in source order, e.g. "*" or "[]*".
type TypeRef struct {
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty" msgpack:"prefix,omitempty"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty" msgpack:"path,omitempty"`
	Name   string `json:"name" yaml:"name" msgpack:"name"`
}

// ParseTypeRef parses a fully qualified type name such as
// "example.com/app/models.User", "[]*example.com/app/models.User" or "int32".
func ParseTypeRef(s string) (TypeRef, error) {
	raw := s
	if s == "" || strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return TypeRef{}, fmt.Errorf("%w: %q", ErrMalformedTypeName, raw)
	}

	var prefix strings.Builder
	for {
		switch {
		case strings.HasPrefix(s, "*"):
			prefix.WriteString("*")
			s = s[1:]
			continue
		case strings.HasPrefix(s, "[]"):
			prefix.WriteString("[]")
			s = s[2:]
			continue
		}
		break
	}

	ref := TypeRef{Prefix: prefix.String()}
	lastSlash := strings.LastIndex(s, "/")
	lastDot := strings.LastIndex(s, ".")
	if lastDot > lastSlash {
		ref.Path = s[:lastDot]
		ref.Name = s[lastDot+1:]
		if ref.Path == "" || strings.ContainsAny(ref.Path, "[]*,") {
			return TypeRef{}, fmt.Errorf("%w: %q", ErrMalformedTypeName, raw)
		}
	} else {
		if lastSlash >= 0 {
			return TypeRef{}, fmt.Errorf("%w: %q", ErrMalformedTypeName, raw)
		}
		ref.Name = s
	}

	if !IsIdentifier(ref.Name) {
		return TypeRef{}, fmt.Errorf("%w: %q", ErrMalformedTypeName, raw)
	}
	if ref.Path == "" && !IsPredeclared(ref.Name) {
		return TypeRef{}, fmt.Errorf("%w: %q is neither predeclared nor package-qualified", ErrMalformedTypeName, raw)
	}
	return ref, nil
}

// MustParseTypeRef is like ParseTypeRef but panics on error. Intended for tests and constants.
func MustParseTypeRef(s string) TypeRef {
	ref, err := ParseTypeRef(s)
	if err != nil {
		panic(err)
	}
	return ref
}

// ParseTypeRefs parses every name, failing on the first malformed one.
func ParseTypeRefs(names []string) ([]TypeRef, error) {
	refs := make([]TypeRef, 0, len(names))
	for _, n := range names {
		ref, err := ParseTypeRef(n)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// String returns the full identity used for uniqueness keys.
func (t TypeRef) String() string {
	if t.Path == "" {
		return t.Prefix + t.Name
	}
	return t.Prefix + t.Path + "." + t.Name
}

// PackageName returns the last element of the import path.
func (t TypeRef) PackageName() string {
	if t.Path == "" {
		return ""
	}
	return path.Base(t.Path)
}

// Short returns the type as it would be written in source that imports its
// package under the default name, e.g. "[]models.User".
func (t TypeRef) Short() string {
	if t.Path == "" {
		return t.Prefix + t.Name
	}
	return t.Prefix + t.PackageName() + "." + t.Name
}

// Base returns the same reference without pointer or slice modifiers.
func (t TypeRef) Base() TypeRef {
	return TypeRef{Path: t.Path, Name: t.Name}
}

// IsPredeclared reports whether the base type is a predeclared identifier.
func (t TypeRef) IsPredeclared() bool {
	return t.Path == "" && IsPredeclared(t.Name)
}

// TupleKey joins the full identities of args into a single comparable key.
func TupleKey(args []TypeRef) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return strings.Join(parts, ",")
}

// EqualTuples reports whether two argument tuples have identical identities.
func EqualTuples(a, b []TypeRef) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// IsIdentifier reports whether s is a valid Go identifier.
func IsIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) {
			continue
		}
		if i > 0 && unicode.IsDigit(r) {
			continue
		}
		return false
	}
	return true
}
