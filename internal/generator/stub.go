package generator

import (
	"bytes"
	"fmt"

	"github.com/dave/jennifer/jen"

	"geninst/internal/identity"
	"geninst/internal/registry"
)

// Header is the first line of every file geninst writes.
const Header = "Code generated by geninst. DO NOT EDIT."

// TypeCode renders t as jennifer code, qualifying non-predeclared types with
// their import path so the file imports them.
func TypeCode(t identity.TypeRef) *jen.Statement {
	s := &jen.Statement{}
	for rest := t.Prefix; rest != ""; {
		if rest[0] == '*' {
			s.Op("*")
			rest = rest[1:]
			continue
		}
		s.Index()
		rest = rest[2:]
	}
	if t.Path == "" {
		return s.Id(t.Name)
	}
	return s.Qual(t.Path, t.Name)
}

// RenderStub produces the source of the concrete type standing in for
// def[args], e.g. `type Container_Int32 struct{ models.Container[int32] }`.
func RenderStub(pkgName, stem string, def registry.Definition, args []identity.TypeRef) ([]byte, error) {
	if len(args) != def.Arity() {
		return nil, fmt.Errorf("%w: %s takes %d type arguments, got %d", ErrArityMismatch, def.Name, def.Arity(), len(args))
	}

	f := jen.NewFile(pkgName)
	f.HeaderComment(Header)
	f.ImportName(def.PackagePath, def.PackageName)

	argCode := make([]jen.Code, len(args))
	for i, a := range args {
		argCode[i] = TypeCode(a)
	}

	display := def.PackageName + "." + identity.DisplayName(def.TypeName, args)
	f.Commentf("%s stands in for %s.", stem, display)
	f.Type().Id(stem).Struct(
		jen.Qual(def.PackagePath, def.TypeName).Types(argCode...),
	)

	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return nil, fmt.Errorf("render %s: %w", stem, err)
	}
	return buf.Bytes(), nil
}
