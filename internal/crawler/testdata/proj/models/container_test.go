package models

type testOnly[T any] struct{}
