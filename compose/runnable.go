package compose

/*
 * runnable.go - 可执行对象
 *
 * 每个阶段对外提供四种数据流模式，组件只需实现其中之一，其余由 runnablePacker 推导：
 *   - Invoke：值 => 值
 *   - Stream：值 => 流
 *   - Collect：流 => 值
 *   - Transform：流 => 流
 *
 * composableRunnable 是擦除了类型的阶段，链与并行映射在其上组合；
 * 编译后再由 runnable[I, O] 还原为带类型的 Runnable。
 */

import (
	"context"
	"reflect"

	"github.com/favbox/eino-chains/components"
	"github.com/favbox/eino-chains/internal/generic"
	"github.com/favbox/eino-chains/schema"
)

// Runnable 编译后的流水线。可被多个协程并发调用。
type Runnable[I, O any] interface {
	Invoke(ctx context.Context, input I, opts ...Option) (output O, err error)
	Stream(ctx context.Context, input I, opts ...Option) (output *schema.StreamReader[O], err error)
	Collect(ctx context.Context, input *schema.StreamReader[I], opts ...Option) (output O, err error)
	Transform(ctx context.Context, input *schema.StreamReader[I], opts ...Option) (output *schema.StreamReader[O], err error)
	// Batch 并发执行多个输入，输出顺序与输入一致。
	Batch(ctx context.Context, inputs []I, opts ...Option) (outputs []O, err error)
}

type invoke func(ctx context.Context, input any, opts ...any) (output any, err error)

type stream func(ctx context.Context, input any, opts ...any) (output streamReader, err error)

type collect func(ctx context.Context, input streamReader, opts ...any) (output any, err error)

type transform func(ctx context.Context, input streamReader, opts ...any) (output streamReader, err error)

// composableRunnable 擦除类型后的阶段。
type composableRunnable struct {
	i invoke
	s stream
	c collect
	t transform

	inputType  reflect.Type
	outputType reflect.Type
	// optionType 为 nil 表示不接收任何调用选项。
	optionType reflect.Type

	meta *executorMeta
}

// executorMeta 阶段的组件信息，用于回调的 RunInfo。
type executorMeta struct {
	component components.Component
	// isComponentCallbackEnabled 为 true 时组件自行触发回调，compose 不再包裹。
	isComponentCallbackEnabled bool
	componentImplType          string
}

func runnableLambda[I, O, TOption any](i Invoke[I, O, TOption], s Stream[I, O, TOption], c Collect[I, O, TOption],
	t Transform[I, O, TOption], enableCallback bool) *composableRunnable {
	return newRunnablePacker(i, s, c, t, enableCallback).toComposableRunnable()
}

type runnablePacker[I, O, TOption any] struct {
	i Invoke[I, O, TOption]
	s Stream[I, O, TOption]
	c Collect[I, O, TOption]
	t Transform[I, O, TOption]
}

func (rp *runnablePacker[I, O, TOption]) toComposableRunnable() *composableRunnable {
	inputType := generic.TypeOf[I]()
	optionType := generic.TypeOf[TOption]()
	if optionType == generic.TypeOf[unreachableOption]() {
		optionType = nil
	}

	c := &composableRunnable{
		inputType:  inputType,
		outputType: generic.TypeOf[O](),
		optionType: optionType,
	}

	c.i = func(ctx context.Context, input any, opts ...any) (any, error) {
		in, err := assertValue[I](input, inputType)
		if err != nil {
			return nil, err
		}
		return rp.i(ctx, in, convertOption[TOption](opts...)...)
	}

	c.s = func(ctx context.Context, input any, opts ...any) (streamReader, error) {
		in, err := assertValue[I](input, inputType)
		if err != nil {
			return nil, err
		}
		out, err := rp.s(ctx, in, convertOption[TOption](opts...)...)
		if err != nil {
			return nil, err
		}
		return packStreamReader(out), nil
	}

	c.c = func(ctx context.Context, input streamReader, opts ...any) (any, error) {
		return rp.c(ctx, unpackStreamReader[I](input), convertOption[TOption](opts...)...)
	}

	c.t = func(ctx context.Context, input streamReader, opts ...any) (streamReader, error) {
		out, err := rp.t(ctx, unpackStreamReader[I](input), convertOption[TOption](opts...)...)
		if err != nil {
			return nil, err
		}
		return packStreamReader(out), nil
	}

	return c
}

func invokeByStream[I, O, TOption any](s Stream[I, O, TOption]) Invoke[I, O, TOption] {
	return func(ctx context.Context, input I, opts ...TOption) (output O, err error) {
		sr, err := s(ctx, input, opts...)
		if err != nil {
			return output, err
		}
		return concatStreamReader(sr)
	}
}

func invokeByCollect[I, O, TOption any](c Collect[I, O, TOption]) Invoke[I, O, TOption] {
	return func(ctx context.Context, input I, opts ...TOption) (output O, err error) {
		return c(ctx, schema.StreamReaderFromArray([]I{input}), opts...)
	}
}

func invokeByTransform[I, O, TOption any](t Transform[I, O, TOption]) Invoke[I, O, TOption] {
	return func(ctx context.Context, input I, opts ...TOption) (output O, err error) {
		sr, err := t(ctx, schema.StreamReaderFromArray([]I{input}), opts...)
		if err != nil {
			return output, err
		}
		return concatStreamReader(sr)
	}
}

func streamByTransform[I, O, TOption any](t Transform[I, O, TOption]) Stream[I, O, TOption] {
	return func(ctx context.Context, input I, opts ...TOption) (*schema.StreamReader[O], error) {
		return t(ctx, schema.StreamReaderFromArray([]I{input}), opts...)
	}
}

func streamByInvoke[I, O, TOption any](i Invoke[I, O, TOption]) Stream[I, O, TOption] {
	return func(ctx context.Context, input I, opts ...TOption) (*schema.StreamReader[O], error) {
		out, err := i(ctx, input, opts...)
		if err != nil {
			return nil, err
		}
		return schema.StreamReaderFromArray([]O{out}), nil
	}
}

func streamByCollect[I, O, TOption any](c Collect[I, O, TOption]) Stream[I, O, TOption] {
	return func(ctx context.Context, input I, opts ...TOption) (*schema.StreamReader[O], error) {
		out, err := c(ctx, schema.StreamReaderFromArray([]I{input}), opts...)
		if err != nil {
			return nil, err
		}
		return schema.StreamReaderFromArray([]O{out}), nil
	}
}

func collectByTransform[I, O, TOption any](t Transform[I, O, TOption]) Collect[I, O, TOption] {
	return func(ctx context.Context, input *schema.StreamReader[I], opts ...TOption) (output O, err error) {
		sr, err := t(ctx, input, opts...)
		if err != nil {
			return output, err
		}
		return concatStreamReader(sr)
	}
}

func collectByInvoke[I, O, TOption any](i Invoke[I, O, TOption]) Collect[I, O, TOption] {
	return func(ctx context.Context, input *schema.StreamReader[I], opts ...TOption) (output O, err error) {
		in, err := concatStreamReader(input)
		if err != nil {
			return output, err
		}
		return i(ctx, in, opts...)
	}
}

func collectByStream[I, O, TOption any](s Stream[I, O, TOption]) Collect[I, O, TOption] {
	return func(ctx context.Context, input *schema.StreamReader[I], opts ...TOption) (output O, err error) {
		in, err := concatStreamReader(input)
		if err != nil {
			return output, err
		}
		sr, err := s(ctx, in, opts...)
		if err != nil {
			return output, err
		}
		return concatStreamReader(sr)
	}
}

func transformByStream[I, O, TOption any](s Stream[I, O, TOption]) Transform[I, O, TOption] {
	return func(ctx context.Context, input *schema.StreamReader[I], opts ...TOption) (*schema.StreamReader[O], error) {
		in, err := concatStreamReader(input)
		if err != nil {
			return nil, err
		}
		return s(ctx, in, opts...)
	}
}

func transformByCollect[I, O, TOption any](c Collect[I, O, TOption]) Transform[I, O, TOption] {
	return func(ctx context.Context, input *schema.StreamReader[I], opts ...TOption) (*schema.StreamReader[O], error) {
		out, err := c(ctx, input, opts...)
		if err != nil {
			return nil, err
		}
		return schema.StreamReaderFromArray([]O{out}), nil
	}
}

func transformByInvoke[I, O, TOption any](i Invoke[I, O, TOption]) Transform[I, O, TOption] {
	return func(ctx context.Context, input *schema.StreamReader[I], opts ...TOption) (*schema.StreamReader[O], error) {
		in, err := concatStreamReader(input)
		if err != nil {
			return nil, err
		}
		out, err := i(ctx, in, opts...)
		if err != nil {
			return nil, err
		}
		return schema.StreamReaderFromArray([]O{out}), nil
	}
}

// newRunnablePacker 补齐缺失的模式。推导优先级：
// Invoke 优先 Stream，Stream 优先 Transform，Collect 优先 Transform，Transform 优先 Stream。
func newRunnablePacker[I, O, TOption any](i Invoke[I, O, TOption], s Stream[I, O, TOption],
	c Collect[I, O, TOption], t Transform[I, O, TOption], enableCallback bool) *runnablePacker[I, O, TOption] {

	if enableCallback {
		if i != nil {
			i = invokeWithCallbacks(i)
		}
		if s != nil {
			s = streamWithCallbacks(s)
		}
		if c != nil {
			c = collectWithCallbacks(c)
		}
		if t != nil {
			t = transformWithCallbacks(t)
		}
	}

	r := &runnablePacker[I, O, TOption]{}

	switch {
	case i != nil:
		r.i = i
	case s != nil:
		r.i = invokeByStream(s)
	case c != nil:
		r.i = invokeByCollect(c)
	default:
		r.i = invokeByTransform(t)
	}

	switch {
	case s != nil:
		r.s = s
	case t != nil:
		r.s = streamByTransform(t)
	case i != nil:
		r.s = streamByInvoke(i)
	default:
		r.s = streamByCollect(c)
	}

	switch {
	case c != nil:
		r.c = c
	case t != nil:
		r.c = collectByTransform(t)
	case i != nil:
		r.c = collectByInvoke(i)
	default:
		r.c = collectByStream(s)
	}

	switch {
	case t != nil:
		r.t = t
	case s != nil:
		r.t = transformByStream(s)
	case c != nil:
		r.t = transformByCollect(c)
	default:
		r.t = transformByInvoke(i)
	}

	return r
}
