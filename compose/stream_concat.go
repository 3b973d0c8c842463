package compose

import (
	"errors"
	"io"

	"github.com/favbox/eino-chains/internal"
	"github.com/favbox/eino-chains/schema"
)

// RegisterStreamChunkConcatFunc 注册自定义类型的分块合并函数。
// 流被折叠为单个值时（Invoke 由 Stream 推导、下游只支持 Invoke 等）使用。
//
//	type tokenCount int
//
//	func init() {
//		compose.RegisterStreamChunkConcatFunc(func(cs []tokenCount) (tokenCount, error) {
//			var sum tokenCount
//			for _, c := range cs {
//				sum += c
//			}
//			return sum, nil
//		})
//	}
func RegisterStreamChunkConcatFunc[T any](fn func([]T) (T, error)) {
	internal.RegisterStreamChunkConcatFunc(fn)
}

var errEmptyStream = errors.New("stream reader is empty, concat failed")

func concatStreamReader[T any](sr *schema.StreamReader[T]) (T, error) {
	defer sr.Close()

	var items []T
	for {
		chunk, err := sr.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			if _, ok := schema.GetSourceName(err); ok {
				continue
			}
			var t T
			return t, err
		}
		items = append(items, chunk)
	}

	if len(items) == 0 {
		var t T
		return t, errEmptyStream
	}

	return internal.ConcatItems(items)
}
