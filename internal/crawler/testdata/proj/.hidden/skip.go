package hidden

type Skipped[T any] struct{}
