package util

// CloneSlice clones slice with cloneSize.
// This function will use src length as the clone size if cloneSize is 0.
// A cloneSize smaller than len(src) is raised to len(src).
func CloneSlice[T any](src []T, cloneSize int) []T {
	if cloneSize < len(src) {
		cloneSize = len(src)
	}
	clone := make([]T, len(src), cloneSize)
	copy(clone, src)

	return clone
}

// RemoveAt returns a new slice holding src without the element at index i.
// src is left untouched; it panics if i is out of range.
func RemoveAt[T any](src []T, i int) []T {
	result := make([]T, 0, len(src)-1)
	result = append(result, src[:i]...)

	return append(result, src[i+1:]...)
}
