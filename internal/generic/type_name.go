package generic

import (
	"reflect"
	"regexp"
	"runtime"
	"strings"
)

// 匿名函数在运行时的名称形如 func1、func1.2
var anonymousFuncName = regexp.MustCompile(`^(func)?[0-9]+$`)

// ParseTypeName 返回值的类型名，指针会被解引用。
// 函数值返回函数名，匿名函数返回空串。
func ParseTypeName(val reflect.Value) string {
	if !val.IsValid() {
		return ""
	}
	typ := val.Type()
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Func {
		return typ.Name()
	}

	fn := runtime.FuncForPC(val.Pointer())
	if fn == nil {
		return ""
	}
	name := fn.Name()
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	if anonymousFuncName.MatchString(name) {
		return ""
	}
	return name
}
