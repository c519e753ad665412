package structs

import (
	"iter"
	"sort"

	"golang.org/x/exp/constraints"
)

type empty = struct{}

// Set is a plain set of comparable values.
type Set[T comparable] map[T]empty

// NewSet creates a set holding values.
func NewSet[T comparable](values ...T) Set[T] {
	res := make(Set[T])
	for _, v := range values {
		res[v] = empty{}
	}
	return res
}

func (s Set[T]) Add(value T) {
	s[value] = empty{}
}

func (s Set[T]) Remove(value T) {
	delete(s, value)
}

func (s Set[T]) Contains(value T) bool {
	_, exists := s[value]
	return exists
}

func (s Set[T]) Size() int {
	return len(s)
}

func (s Set[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for v := range s {
			if !yield(v) {
				return
			}
		}
	}
}

// Clone returns an independent copy of the set.
func (s Set[T]) Clone() Set[T] {
	clone := NewSet[T]()
	for v := range s {
		clone[v] = empty{}
	}
	return clone
}

// Sorted returns the members of an ordered set in ascending order.
func Sorted[T constraints.Ordered](s Set[T]) []T {
	values := make([]T, 0, len(s))
	for v := range s {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return values
}

// SortedKeys returns the keys of m in ascending order, for deterministic iteration.
func SortedKeys[K constraints.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
