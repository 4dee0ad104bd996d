package fetch

import "cmp"

// Comparator orders two items: negative when a sorts first, positive when b
// does, zero when they are equivalent.
type Comparator[T any] func(a, b T) int

// Reverse inverts the order of c.
func Reverse[T any](c Comparator[T]) Comparator[T] {
	return func(a, b T) int { return c(b, a) }
}

// CompareBy orders items by the natural order of the key extracted by key.
func CompareBy[T any, K cmp.Ordered](key func(T) K) Comparator[T] {
	return func(a, b T) int { return cmp.Compare(key(a), key(b)) }
}

// CompareByDesc orders items by descending key.
func CompareByDesc[T any, K cmp.Ordered](key func(T) K) Comparator[T] {
	return Reverse(CompareBy[T, K](key))
}

// Chain applies comparators in turn until one of them tells the items apart.
func Chain[T any](comparators ...Comparator[T]) Comparator[T] {
	return func(a, b T) int {
		for _, c := range comparators {
			if r := c(a, b); r != 0 {
				return r
			}
		}
		return 0
	}
}
