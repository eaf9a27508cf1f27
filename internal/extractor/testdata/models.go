package models

import (
	"fmt"

	cmp "golang.org/x/exp/constraints"
)

// User is a plain type.
type User struct {
	Name string
}

// Container holds a single value.
//
// geninst:generate menu=Containers/Basic file=NewContainer order=10
type Container[T any] struct {
	Value T
}

// Pair is generic but not marked.
type Pair[K comparable, V fmt.Stringer] struct {
	Key   K
	Value V
}

type (
	// Ranked orders its items.
	// geninst:generate menu="Ranked Items"
	Ranked[T cmp.Ordered, U ~int | ~string] []T

	ID = string
)

// Tree uses a package-local constraint.
// geninst:generate
type Tree[N Node, E any] struct {
	Root N
}

type Node interface {
	Children() []Node
}

func local() {
	type hidden[T any] struct{}
}
