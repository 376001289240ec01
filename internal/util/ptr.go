package util

// Ptr returns a pointer to v. Handy for pointer fields on literals.
func Ptr[T any](v T) *T {
	return &v
}
