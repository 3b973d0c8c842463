package compose

import (
	"reflect"

	"github.com/favbox/eino-chains/internal/generic"
)

var (
	mapType = generic.TypeOf[map[string]any]()
	anyType = generic.TypeOf[any]()
)

type assignableType uint8

const (
	assignableTypeMustNot assignableType = iota
	assignableTypeMust
	// assignableTypeMay 上游输出为接口类型，只能在运行时判断。
	assignableTypeMay
)

// checkAssignable 判断类型为 output 的值能否作为类型为 input 的参数。
func checkAssignable(output, input reflect.Type) assignableType {
	if output == nil || input == nil {
		return assignableTypeMustNot
	}
	if output == input || output.AssignableTo(input) {
		return assignableTypeMust
	}
	if input.Kind() == reflect.Interface && output.Implements(input) {
		return assignableTypeMust
	}
	if output.Kind() == reflect.Interface && input.Implements(output) {
		return assignableTypeMay
	}
	return assignableTypeMustNot
}

func toAnyList[T any](in []T) []any {
	ret := make([]any, len(in))
	for i := range in {
		ret[i] = in[i]
	}
	return ret
}
