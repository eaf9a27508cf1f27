package store

// Cache maps keys to values.
// geninst:generate menu=Caches
type Cache[K comparable, V any] map[K]V
