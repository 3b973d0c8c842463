package internal

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/favbox/eino-chains/internal/generic"
)

// concatFuncs 按类型登记的分块合并函数，值为 func([]T) (T, error)。
var concatFuncs = map[reflect.Type]any{
	generic.TypeOf[string]():        joinStrings,
	generic.TypeOf[[]string]():      appendSlices[string],
	generic.TypeOf[[]any]():         appendSlices[any],
	generic.TypeOf[int]():           lastOf[int],
	generic.TypeOf[int32]():         lastOf[int32],
	generic.TypeOf[int64]():         lastOf[int64],
	generic.TypeOf[uint]():          lastOf[uint],
	generic.TypeOf[uint64]():        lastOf[uint64],
	generic.TypeOf[bool]():          lastOf[bool],
	generic.TypeOf[float32]():       lastOf[float32],
	generic.TypeOf[float64]():       lastOf[float64],
	generic.TypeOf[time.Time]():     lastOf[time.Time],
	generic.TypeOf[time.Duration](): lastOf[time.Duration],
}

func joinStrings(ss []string) (string, error) {
	return strings.Join(ss, ""), nil
}

func appendSlices[T any](chunks [][]T) ([]T, error) {
	var out []T
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out, nil
}

func lastOf[T any](s []T) (T, error) {
	return s[len(s)-1], nil
}

// RegisterStreamChunkConcatFunc 登记类型 T 的分块合并函数，同类型重复登记时后者覆盖前者。
// 只应在 init 中调用。
func RegisterStreamChunkConcatFunc[T any](fn func([]T) (T, error)) {
	concatFuncs[generic.TypeOf[T]()] = fn
}

// GetConcatFunc 返回 typ 的合并函数，未登记时返回 nil。
func GetConcatFunc(typ reflect.Type) func(reflect.Value) (reflect.Value, error) {
	fn, ok := concatFuncs[typ]
	if !ok {
		return nil
	}
	return func(chunks reflect.Value) (reflect.Value, error) {
		out := reflect.ValueOf(fn).Call([]reflect.Value{chunks})
		if errV := out[1]; !errV.IsNil() {
			return reflect.Value{}, errV.Interface().(error)
		}
		return out[0], nil
	}
}

// ConcatItems 把流的全部分块合并为一个值。
//   - 映射：按键分组后逐键递归合并
//   - 已登记类型：调用登记的合并函数
//   - 其他类型：取最后一个非零分块
func ConcatItems[T any](items []T) (T, error) {
	var zero T
	if len(items) == 0 {
		return zero, fmt.Errorf("no chunks to concat for type %s", generic.TypeOf[T]())
	}
	if len(items) == 1 {
		return items[0], nil
	}

	cv, err := concatValues(reflect.ValueOf(items))
	if err != nil {
		return zero, err
	}
	out, ok := cv.Interface().(T)
	if !ok && cv.IsValid() && !cv.IsZero() {
		return zero, fmt.Errorf("concat result type %s is not %s", cv.Type(), generic.TypeOf[T]())
	}
	return out, nil
}

// concatValues chunks 为元素类型一致的切片。
func concatValues(chunks reflect.Value) (reflect.Value, error) {
	if chunks.Len() == 1 {
		return chunks.Index(0), nil
	}
	elem := chunks.Type().Elem()

	if fn := GetConcatFunc(elem); fn != nil {
		return fn(chunks)
	}
	if elem.Kind() == reflect.Map {
		return concatMaps(chunks)
	}
	// 接口类型的分块（如 []any）按动态类型再分派一次
	if elem.Kind() == reflect.Interface {
		concrete, err := toConcreteSlice(chunks)
		if err != nil {
			return reflect.Value{}, err
		}
		if concrete.Type().Elem() != elem {
			return concatValues(concrete)
		}
	}
	return lastNonZero(chunks), nil
}

func concatMaps(ms reflect.Value) (reflect.Value, error) {
	mapType := ms.Type().Elem()
	grouped := make(map[any][]reflect.Value)
	var keys []reflect.Value

	for i := 0; i < ms.Len(); i++ {
		m := ms.Index(i)
		if m.Kind() == reflect.Interface {
			m = m.Elem()
		}
		iter := m.MapRange()
		for iter.Next() {
			k := iter.Key().Interface()
			if _, seen := grouped[k]; !seen {
				keys = append(keys, iter.Key())
			}
			grouped[k] = append(grouped[k], iter.Value())
		}
	}

	ret := reflect.MakeMapWithSize(mapType, len(keys))
	for _, k := range keys {
		vals := grouped[k.Interface()]
		s := reflect.MakeSlice(reflect.SliceOf(mapType.Elem()), 0, len(vals))
		s = reflect.Append(s, vals...)

		merged, err := concatValues(s)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("concat key %v: %w", k.Interface(), err)
		}
		if !merged.IsValid() {
			merged = reflect.Zero(mapType.Elem())
		}
		ret.SetMapIndex(k, merged)
	}
	return ret, nil
}

// toConcreteSlice 把 []interface 转为动态类型一致的具体切片；
// 动态类型不一致或含 nil 时原样返回。
func toConcreteSlice(chunks reflect.Value) (reflect.Value, error) {
	var typ reflect.Type
	for i := 0; i < chunks.Len(); i++ {
		v := chunks.Index(i).Elem()
		if !v.IsValid() {
			return chunks, nil
		}
		if typ == nil {
			typ = v.Type()
		} else if typ != v.Type() {
			return reflect.Value{}, fmt.Errorf("chunks have mixed types: %s and %s", typ, v.Type())
		}
	}

	out := reflect.MakeSlice(reflect.SliceOf(typ), chunks.Len(), chunks.Len())
	for i := 0; i < chunks.Len(); i++ {
		out.Index(i).Set(chunks.Index(i).Elem())
	}
	return out, nil
}

func lastNonZero(chunks reflect.Value) reflect.Value {
	for i := chunks.Len() - 1; i >= 0; i-- {
		if v := chunks.Index(i); !v.IsZero() {
			return v
		}
	}
	return reflect.Zero(chunks.Type().Elem())
}
