package compose

import (
	"context"
	"errors"

	"github.com/favbox/eino-chains/schema"
)

// Invoke 值 => 值。
type Invoke[I, O, TOption any] func(ctx context.Context, input I, opts ...TOption) (output O, err error)

// Stream 值 => 流。
type Stream[I, O, TOption any] func(ctx context.Context,
	input I, opts ...TOption) (output *schema.StreamReader[O], err error)

// Collect 流 => 值。
type Collect[I, O, TOption any] func(ctx context.Context,
	input *schema.StreamReader[I], opts ...TOption) (output O, err error)

// Transform 流 => 流。
type Transform[I, O, TOption any] func(ctx context.Context,
	input *schema.StreamReader[I], opts ...TOption) (output *schema.StreamReader[O], err error)

type InvokeWOOpt[I, O any] func(ctx context.Context, input I) (output O, err error)

type StreamWOOpt[I, O any] func(ctx context.Context,
	input I) (output *schema.StreamReader[O], err error)

type CollectWOOpt[I, O any] func(ctx context.Context,
	input *schema.StreamReader[I]) (output O, err error)

type TransformWOOpts[I, O any] func(ctx context.Context,
	input *schema.StreamReader[I]) (output *schema.StreamReader[O], err error)

// Lambda 把普通函数包装为阶段。
//
//	upper := compose.InvokableLambda(func(ctx context.Context, s string) (string, error) {
//		return strings.ToUpper(s), nil
//	})
type Lambda struct {
	executor *composableRunnable
}

func (l *Lambda) toComposable() (*composableRunnable, error) {
	if l == nil || l.executor == nil {
		return nil, errors.New("lambda is nil")
	}
	return l.executor, nil
}

type lambdaOpts struct {
	// enableComponentCallback 函数内部自行触发回调时设为 true。
	enableComponentCallback bool
	componentImplType       string
}

type LambdaOpt func(o *lambdaOpts)

func WithLambdaCallbackEnable(y bool) LambdaOpt {
	return func(o *lambdaOpts) {
		o.enableComponentCallback = y
	}
}

// WithLambdaType 回调 RunInfo.Type 中显示的实现类型。
func WithLambdaType(t string) LambdaOpt {
	return func(o *lambdaOpts) {
		o.componentImplType = t
	}
}

// unreachableOption 不接收选项的 Lambda 使用的占位类型。
type unreachableOption struct{}

func InvokableLambdaWithOption[I, O, TOption any](i Invoke[I, O, TOption], opts ...LambdaOpt) *Lambda {
	return anyLambda(i, nil, nil, nil, opts...)
}

func InvokableLambda[I, O any](i InvokeWOOpt[I, O], opts ...LambdaOpt) *Lambda {
	f := func(ctx context.Context, input I, _ ...unreachableOption) (O, error) {
		return i(ctx, input)
	}
	return anyLambda(f, nil, nil, nil, opts...)
}

func StreamableLambdaWithOption[I, O, TOption any](s Stream[I, O, TOption], opts ...LambdaOpt) *Lambda {
	return anyLambda(nil, s, nil, nil, opts...)
}

func StreamableLambda[I, O any](s StreamWOOpt[I, O], opts ...LambdaOpt) *Lambda {
	f := func(ctx context.Context, input I, _ ...unreachableOption) (*schema.StreamReader[O], error) {
		return s(ctx, input)
	}
	return anyLambda(nil, f, nil, nil, opts...)
}

func CollectableLambdaWithOption[I, O, TOption any](c Collect[I, O, TOption], opts ...LambdaOpt) *Lambda {
	return anyLambda(nil, nil, c, nil, opts...)
}

func CollectableLambda[I, O any](c CollectWOOpt[I, O], opts ...LambdaOpt) *Lambda {
	f := func(ctx context.Context, input *schema.StreamReader[I], _ ...unreachableOption) (O, error) {
		return c(ctx, input)
	}
	return anyLambda(nil, nil, f, nil, opts...)
}

func TransformableLambdaWithOption[I, O, TOption any](t Transform[I, O, TOption], opts ...LambdaOpt) *Lambda {
	return anyLambda(nil, nil, nil, t, opts...)
}

func TransformableLambda[I, O any](t TransformWOOpts[I, O], opts ...LambdaOpt) *Lambda {
	f := func(ctx context.Context, input *schema.StreamReader[I], _ ...unreachableOption) (*schema.StreamReader[O], error) {
		return t(ctx, input)
	}
	return anyLambda(nil, nil, nil, f, opts...)
}

// AnyLambda 同时提供多种模式的实现，至少需要一种。
func AnyLambda[I, O, TOption any](i Invoke[I, O, TOption], s Stream[I, O, TOption],
	c Collect[I, O, TOption], t Transform[I, O, TOption], opts ...LambdaOpt) (*Lambda, error) {
	if i == nil && s == nil && c == nil && t == nil {
		return nil, errors.New("needs at least one of invoke/stream/collect/transform, got none")
	}
	return anyLambda(i, s, c, t, opts...), nil
}

func anyLambda[I, O, TOption any](i Invoke[I, O, TOption], s Stream[I, O, TOption],
	c Collect[I, O, TOption], t Transform[I, O, TOption], opts ...LambdaOpt) *Lambda {
	opt := &lambdaOpts{}
	for _, fn := range opts {
		fn(opt)
	}

	executor := runnableLambda(i, s, c, t, !opt.enableComponentCallback)
	executor.meta = &executorMeta{
		component:                  ComponentOfLambda,
		isComponentCallbackEnabled: opt.enableComponentCallback,
		componentImplType:          opt.componentImplType,
	}

	return &Lambda{executor: executor}
}

// ToList 把单个值包装为单元素切片，流式下逐块包装。
func ToList[I any](opts ...LambdaOpt) *Lambda {
	i := func(_ context.Context, input I, _ ...unreachableOption) ([]I, error) {
		return []I{input}, nil
	}
	t := func(_ context.Context, in *schema.StreamReader[I], _ ...unreachableOption) (*schema.StreamReader[[]I], error) {
		return schema.StreamReaderWithConvert(in, func(v I) ([]I, error) {
			return []I{v}, nil
		}), nil
	}
	return anyLambda(i, nil, nil, t, opts...)
}
