// Package gmap 泛型 map 工具。
package gmap

import (
	"cmp"
	"slices"
)

// Concat 合并多个 map，键冲突时后者覆盖前者。结果总是非 nil。
func Concat[K comparable, V any](ms ...map[K]V) map[K]V {
	n := 0
	for _, m := range ms {
		n += len(m)
	}
	ret := make(map[K]V, n)
	for _, m := range ms {
		for k, v := range m {
			ret[k] = v
		}
	}
	return ret
}

// Clone 浅拷贝，nil 返回 nil。
func Clone[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	ret := make(map[K]V, len(m))
	for k, v := range m {
		ret[k] = v
	}
	return ret
}

// SortedKeys 返回升序排列的键。
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
