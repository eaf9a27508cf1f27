package registry

import (
	"slices"

	"geninst/internal/identity"
)

// Definition describes a generic type declaration without type arguments.
// Name is the fully qualified name and the registry key. SourceID identifies
// the declaration independently of its name so renames can be detected.
type Definition struct {
	Name        string   `json:"name" msgpack:"name"`
	PackagePath string   `json:"package_path" msgpack:"package_path"`
	PackageName string   `json:"package_name" msgpack:"package_name"`
	TypeName    string   `json:"type_name" msgpack:"type_name"`
	ArgNames    []string `json:"arg_names" msgpack:"arg_names"`
	SourceID    string   `json:"source_id,omitempty" msgpack:"source_id,omitempty"`
}

// NewDefinition builds a Definition for the type declared as id.
// An empty pkgName defaults to the last element of the import path.
func NewDefinition(id identity.DefinitionID, pkgName string, argNames []string, sourceID string) Definition {
	if pkgName == "" {
		pkgName = id.PackageName()
	}
	return Definition{
		Name:        id.String(),
		PackagePath: id.Path,
		PackageName: pkgName,
		TypeName:    id.Name,
		ArgNames:    slices.Clone(argNames),
		SourceID:    sourceID,
	}
}

// ID returns the identity of the declaration.
func (d Definition) ID() identity.DefinitionID {
	return identity.DefinitionID{Path: d.PackagePath, Name: d.TypeName}
}

// Arity is the number of type parameters.
func (d Definition) Arity() int { return len(d.ArgNames) }

// MethodKey is the key of the dispatch method generated for this definition.
func (d Definition) MethodKey() string {
	return identity.MethodKey(d.PackageName, d.TypeName, d.Arity())
}

func (d Definition) clone() Definition {
	d.ArgNames = slices.Clone(d.ArgNames)
	return d
}

// Artifact is the generated concrete type standing in for one instantiation.
// ID is opaque and survives renames of TypeName and ModulePath.
type Artifact struct {
	ID         string `json:"id" msgpack:"id"`
	TypeName   string `json:"type_name" msgpack:"type_name"`
	ModulePath string `json:"module_path" msgpack:"module_path"`
}

// Instantiation binds a definition to concrete argument types.
type Instantiation struct {
	Definition Definition
	Args       []identity.TypeRef
	Artifact   Artifact
}

// DisplayName renders the instantiation as written in source.
func (i Instantiation) DisplayName() string {
	return identity.DisplayName(i.Definition.TypeName, i.Args)
}
