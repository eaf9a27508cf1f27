package identity

// Constraint is the constraint of one type parameter as it must be written in
// a file outside the declaring package. Either Raw holds source text that
// needs no imports (`~int | ~string`), or Name (and Path, for non-predeclared
// types) names a single constraint type.
type Constraint struct {
	Path string `json:"path,omitempty" msgpack:"path,omitempty"`
	Name string `json:"name,omitempty" msgpack:"name,omitempty"`
	Raw  string `json:"raw,omitempty" msgpack:"raw,omitempty"`
}

// Any is the unconstrained constraint.
var Any = Constraint{Name: "any"}

func (c Constraint) String() string {
	switch {
	case c.Raw != "":
		return c.Raw
	case c.Path == "":
		return c.Name
	default:
		return c.Path + "." + c.Name
	}
}
