package math

import "golang.org/x/exp/constraints"

// AlignUp rounds value up to the next multiple of alignment.
// An alignment of 0 or 1 leaves the value untouched.
func AlignUp[T constraints.Unsigned](value, alignment T) T {
	if alignment <= 1 {
		return value
	}
	return ((value + alignment - 1) / alignment) * alignment
}

// IsPowerOfTwo reports whether value is a non-zero power of two.
func IsPowerOfTwo[T constraints.Unsigned](value T) bool {
	return value != 0 && value&(value-1) == 0
}
