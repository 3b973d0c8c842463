package compose

import (
	"context"

	"github.com/favbox/eino-chains/callbacks"
	icb "github.com/favbox/eino-chains/internal/callbacks"
	"github.com/favbox/eino-chains/schema"
)

type on[T any] func(context.Context, T) (context.Context, T)

func onStart[T any](ctx context.Context, input T) (context.Context, T) {
	return icb.On(ctx, input, icb.OnStartHandle[T], callbacks.TimingOnStart, true)
}

func onEnd[T any](ctx context.Context, output T) (context.Context, T) {
	return icb.On(ctx, output, icb.OnEndHandle[T], callbacks.TimingOnEnd, false)
}

func onStartWithStreamInput[T any](ctx context.Context, input *schema.StreamReader[T]) (
	context.Context, *schema.StreamReader[T]) {
	return icb.On(ctx, input, icb.OnStartWithStreamInputHandle[T], callbacks.TimingOnStartWithStreamInput, true)
}

func onEndWithStreamOutput[T any](ctx context.Context, output *schema.StreamReader[T]) (
	context.Context, *schema.StreamReader[T]) {
	return icb.On(ctx, output, icb.OnEndWithStreamOutputHandle[T], callbacks.TimingOnEndWithStreamOutput, false)
}

func onError(ctx context.Context, err error) (context.Context, error) {
	return icb.On(ctx, err, icb.OnErrorHandle, callbacks.TimingOnError, false)
}

// 擦除类型的流回调，用于链与并行映射自身。

func genericOnStartWithStreamInputHandle(ctx context.Context, input streamReader,
	info *icb.RunInfo, hs []icb.Handler) (context.Context, streamReader) {
	if len(hs) == 0 {
		return ctx, input
	}
	cps := input.copy(len(hs) + 1)
	for i := len(hs) - 1; i >= 0; i-- {
		ctx = hs[i].OnStartWithStreamInput(ctx, info, toCallbackStream[icb.CallbackInput](cps[i]))
	}
	return ctx, cps[len(hs)]
}

func genericOnEndWithStreamOutputHandle(ctx context.Context, output streamReader,
	info *icb.RunInfo, hs []icb.Handler) (context.Context, streamReader) {
	if len(hs) == 0 {
		return ctx, output
	}
	cps := output.copy(len(hs) + 1)
	for i, h := range hs {
		ctx = h.OnEndWithStreamOutput(ctx, info, toCallbackStream[icb.CallbackOutput](cps[i]))
	}
	return ctx, cps[len(hs)]
}

func toCallbackStream[D any](sr streamReader) *schema.StreamReader[D] {
	return schema.StreamReaderWithConvert(sr.toAnyStreamReader(), func(v any) (D, error) {
		d, _ := v.(D)
		return d, nil
	})
}

func genericOnStartWithStreamInput(ctx context.Context, input streamReader) (context.Context, streamReader) {
	return icb.On(ctx, input, genericOnStartWithStreamInputHandle, callbacks.TimingOnStartWithStreamInput, true)
}

func genericOnEndWithStreamOutput(ctx context.Context, output streamReader) (context.Context, streamReader) {
	return icb.On(ctx, output, genericOnEndWithStreamOutputHandle, callbacks.TimingOnEndWithStreamOutput, false)
}

func runWithCallbacks[I, O, TOption any](r func(context.Context, I, ...TOption) (O, error),
	onStart on[I], onEnd on[O], onError on[error]) func(context.Context, I, ...TOption) (O, error) {

	return func(ctx context.Context, input I, opts ...TOption) (output O, err error) {
		ctx, input = onStart(ctx, input)

		output, err = r(ctx, input, opts...)
		if err != nil {
			_, err = onError(ctx, err)
			return output, err
		}

		_, output = onEnd(ctx, output)
		return output, nil
	}
}

func invokeWithCallbacks[I, O, TOption any](i Invoke[I, O, TOption]) Invoke[I, O, TOption] {
	return runWithCallbacks(i, onStart[I], onEnd[O], onError)
}

func streamWithCallbacks[I, O, TOption any](s Stream[I, O, TOption]) Stream[I, O, TOption] {
	return runWithCallbacks(s, onStart[I], onEndWithStreamOutput[O], onError)
}

func collectWithCallbacks[I, O, TOption any](c Collect[I, O, TOption]) Collect[I, O, TOption] {
	return runWithCallbacks(c, onStartWithStreamInput[I], onEnd[O], onError)
}

func transformWithCallbacks[I, O, TOption any](t Transform[I, O, TOption]) Transform[I, O, TOption] {
	return runWithCallbacks(t, onStartWithStreamInput[I], onEndWithStreamOutput[O], onError)
}

// withCompositeCallbacks 为链、并行映射这类组合阶段包裹回调。
func withCompositeCallbacks(cr *composableRunnable) *composableRunnable {
	n := *cr
	n.i = runWithCallbacks[any, any, any](cr.i, onStart[any], onEnd[any], onError)
	n.s = runWithCallbacks[any, streamReader, any](cr.s, onStart[any], genericOnEndWithStreamOutput, onError)
	n.c = runWithCallbacks[streamReader, any, any](cr.c, genericOnStartWithStreamInput, onEnd[any], onError)
	n.t = runWithCallbacks[streamReader, streamReader, any](cr.t, genericOnStartWithStreamInput,
		genericOnEndWithStreamOutput, onError)
	return &n
}
