package extractor

import "geninst/internal/identity"

// FileInfo is everything discovery needs from one Go source file.
type FileInfo struct {
	Path    string            `json:"path"`
	Package string            `json:"package"`
	Imports map[string]string `json:"imports"` // local name -> import path
	Types   []string          `json:"types"`   // every top-level type name, generic or not
	Generic []GenericDecl     `json:"generic"`
}

// GenericDecl is a top-level generic type declaration.
type GenericDecl struct {
	Name       string      `json:"name"`
	TypeParams []TypeParam `json:"type_params"`
	Directive  *Directive  `json:"directive,omitempty"` // nil unless marked with geninst:generate
	Ordinal    int         `json:"ordinal"`             // position among generic declarations in the file
	StartLine  int         `json:"start_line"`
	Doc        string      `json:"doc,omitempty"`
}

// Marked reports whether the declaration opted in to instantiation.
func (d GenericDecl) Marked() bool { return d.Directive != nil }

// ArgNames lists the type parameter names in order.
func (d GenericDecl) ArgNames() []string {
	names := make([]string, len(d.TypeParams))
	for i, p := range d.TypeParams {
		names[i] = p.Name
	}
	return names
}

// TypeParam is one type parameter with its constraint as written in source.
type TypeParam struct {
	Name       string `json:"name"`
	Constraint string `json:"constraint"`
}

// Directive holds the options of a geninst:generate comment.
type Directive struct {
	Menu  string `json:"menu,omitempty"`
	File  string `json:"file,omitempty"`
	Order int    `json:"order,omitempty"`
}

// ResolveConstraint turns constraint source text into a form usable from
// another package. pkgPath is the import path of the declaring package.
func (f *FileInfo) ResolveConstraint(text, pkgPath string) identity.Constraint {
	if text == "" {
		return identity.Any
	}
	if identity.IsIdentifier(text) {
		if identity.IsPredeclared(text) {
			return identity.Constraint{Name: text}
		}
		return identity.Constraint{Path: pkgPath, Name: text}
	}
	if pkg, name, ok := splitSelector(text); ok {
		if path, imported := f.Imports[pkg]; imported {
			return identity.Constraint{Path: path, Name: name}
		}
	}
	return identity.Constraint{Raw: text}
}

func splitSelector(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			pkg, name := s[:i], s[i+1:]
			return pkg, name, identity.IsIdentifier(pkg) && identity.IsIdentifier(name)
		}
	}
	return "", "", false
}
