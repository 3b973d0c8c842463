package compose

import (
	"reflect"

	"github.com/favbox/eino-chains/internal/generic"
	"github.com/favbox/eino-chains/schema"
)

// streamReader 擦除了元素类型的 StreamReader，供阶段之间传递。
type streamReader interface {
	copy(n int) []streamReader
	getChunkType() reflect.Type
	withKey(string) streamReader
	withErrWrapper(func(error) error) streamReader
	toAnyStreamReader() *schema.StreamReader[any]
	close()
}

type streamReaderPacker[T any] struct {
	sr *schema.StreamReader[T]
}

func (srp streamReaderPacker[T]) copy(n int) []streamReader {
	ret := make([]streamReader, n)
	for i, sr := range srp.sr.Copy(n) {
		ret[i] = streamReaderPacker[T]{sr}
	}
	return ret
}

func (srp streamReaderPacker[T]) getChunkType() reflect.Type {
	return generic.TypeOf[T]()
}

// withKey 把每个分块包装为 {key: chunk}，用于并行分支输出的合并。
func (srp streamReaderPacker[T]) withKey(key string) streamReader {
	return packStreamReader(schema.StreamReaderWithConvert(srp.sr, func(v T) (map[string]any, error) {
		return map[string]any{key: v}, nil
	}))
}

func (srp streamReaderPacker[T]) withErrWrapper(fn func(error) error) streamReader {
	return packStreamReader(schema.StreamReaderWithConvert(srp.sr, func(v T) (T, error) {
		return v, nil
	}, schema.WithErrWrapper(fn)))
}

func (srp streamReaderPacker[T]) toAnyStreamReader() *schema.StreamReader[any] {
	return schema.StreamReaderWithConvert(srp.sr, func(t T) (any, error) {
		return t, nil
	})
}

func (srp streamReaderPacker[T]) close() {
	srp.sr.Close()
}

func packStreamReader[T any](sr *schema.StreamReader[T]) streamReader {
	return streamReaderPacker[T]{sr}
}

// unpackStreamReader 还原为 *schema.StreamReader[T]。元素类型不同时逐块断言，
// 断言失败的分块以错误形式交给读取方。
func unpackStreamReader[T any](isr streamReader) *schema.StreamReader[T] {
	if c, ok := isr.(streamReaderPacker[T]); ok {
		return c.sr
	}

	typ := generic.TypeOf[T]()
	return schema.StreamReaderWithConvert(isr.toAnyStreamReader(), func(v any) (T, error) {
		return assertValue[T](v, typ)
	})
}

// assertValue 把擦除类型的值还原为 T。v 为 nil 且 T 可为 nil 时返回零值。
func assertValue[T any](v any, typ reflect.Type) (T, error) {
	if t, ok := v.(T); ok {
		return t, nil
	}
	var zero T
	if v == nil && nillable(typ) {
		return zero, nil
	}
	return zero, newUnexpectedInputTypeErr(typ, reflect.TypeOf(v))
}

func nillable(typ reflect.Type) bool {
	switch typ.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	default:
		return false
	}
}
