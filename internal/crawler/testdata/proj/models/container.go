package models

// Container holds one value.
// geninst:generate
type Container[T any] struct {
	Value T
}

type User struct {
	Name string
}
