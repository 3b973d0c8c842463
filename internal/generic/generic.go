package generic

import "reflect"

// NewInstance 返回 T 的可用实例：map、slice 与指针返回非 nil 值，其他类型返回零值。
func NewInstance[T any]() T {
	typ := TypeOf[T]()

	switch typ.Kind() {
	case reflect.Map:
		return reflect.MakeMap(typ).Interface().(T)
	case reflect.Slice:
		return reflect.MakeSlice(typ, 0, 0).Interface().(T)
	case reflect.Ptr:
		return reflect.New(typ.Elem()).Interface().(T)
	default:
		var t T
		return t
	}
}

// TypeOf 返回 T 的 reflect.Type，对接口类型同样有效。
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func PtrOf[T any](v T) *T {
	return &v
}

// Reverse 返回逆序的新切片。
func Reverse[S ~[]E, E any](s S) S {
	d := make(S, len(s))
	for i := range s {
		d[i] = s[len(s)-i-1]
	}
	return d
}
