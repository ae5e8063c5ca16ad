package mathx

import "golang.org/x/exp/constraints"

func Clamp[T constraints.Ordered](value, min, max T) T {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// AlignUp rounds value up to the next multiple of align. align must be a
// power of two greater than zero.
func AlignUp[T constraints.Unsigned](value, align T) T {
	return (value + align - 1) &^ (align - 1)
}

func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

func Min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}
