package mapslicehelp

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/exp/constraints"
)

func OrderedMapKeys[K comparable, V any](m *orderedmap.OrderedMap[K, V]) []K {
	l := make([]K, m.Len())
	i := 0
	for p := m.Oldest(); p != nil; p = p.Next() {
		l[i] = p.Key
		i++
	}
	return l
}

// OrderedMapFromPairs builds an ordered map, keeping the order of the given pairs.
func OrderedMapFromPairs[K comparable, V any](pairs ...orderedmap.Pair[K, V]) *orderedmap.OrderedMap[K, V] {
	return orderedmap.New[K, V](orderedmap.WithInitialData(pairs...))
}

func AsKeys[T constraints.Ordered](elements []T) map[T]struct{} {
	mapped := make(map[T]struct{}, len(elements))
	for _, element := range elements {
		mapped[element] = struct{}{}
	}
	return mapped
}

func CountVals[K, V comparable](m map[K]V, v V) int {
	n := 0
	for _, val := range m {
		if val == v {
			n++
		}
	}
	return n
}
