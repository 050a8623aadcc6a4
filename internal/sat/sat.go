// Package sat holds saturating arithmetic for unsigned counters.
package sat

import "golang.org/x/exp/constraints"

// Sub returns a-b, clamped at zero.
func Sub[T constraints.Unsigned](a, b T) T {
	if b >= a {
		return 0
	}
	return a - b
}

// Dec returns v-1, clamped at zero.
func Dec[T constraints.Unsigned](v T) T {
	return Sub(v, 1)
}
