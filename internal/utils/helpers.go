package utils

// SliceToSet converts a slice of any comparable type to a set represented by a map[T]struct{}.
func SliceToSet[T comparable](slice []T) map[T]struct{} {
	set := make(map[T]struct{}, len(slice))
	for _, item := range slice {
		set[item] = struct{}{}
	}
	return set
}

// ContainsAll reports whether every item is in set. An empty items slice is
// always contained.
func ContainsAll[T comparable](set map[T]struct{}, items []T) bool {
	for _, item := range items {
		if _, ok := set[item]; !ok {
			return false
		}
	}
	return true
}
