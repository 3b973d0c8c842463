package compose

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/favbox/eino-chains/callbacks"
	icb "github.com/favbox/eino-chains/internal/callbacks"
	"github.com/favbox/eino-chains/internal/generic"
	"github.com/favbox/eino-chains/schema"
)

// runnable 编译后的链，把带类型的调用转为对 composableRunnable 的调用。
type runnable[I, O any] struct {
	name string
	cr   *composableRunnable
}

func (r *runnable[I, O]) toComposable() (*composableRunnable, error) {
	return r.cr, nil
}

// initRootCallbacks 注入未指定阶段的回调处理器，它们对整条链及其所有阶段生效。
func (r *runnable[I, O]) initRootCallbacks(ctx context.Context, opts []Option) context.Context {
	var hs []callbacks.Handler
	for _, o := range opts {
		if !o.designated() {
			hs = append(hs, o.handlers...)
		}
	}
	ri := &callbacks.RunInfo{Name: r.name, Component: ComponentOfChain}
	if r.cr.meta != nil {
		ri.Component = r.cr.meta.component
		ri.Type = r.cr.meta.componentImplType
	}
	return icb.AppendHandlers(ctx, ri, hs...)
}

func (r *runnable[I, O]) Invoke(ctx context.Context, input I, opts ...Option) (output O, err error) {
	ctx = r.initRootCallbacks(ctx, opts)
	out, err := r.cr.i(ctx, input, toAnyList(opts)...)
	if err != nil {
		return output, err
	}
	output, err = assertValue[O](out, generic.TypeOf[O]())
	if err != nil {
		return output, wrapStageError(r.name, err)
	}
	return output, nil
}

func (r *runnable[I, O]) Stream(ctx context.Context, input I, opts ...Option) (*schema.StreamReader[O], error) {
	ctx = r.initRootCallbacks(ctx, opts)
	sr, err := r.cr.s(ctx, input, toAnyList(opts)...)
	if err != nil {
		return nil, err
	}
	return unpackStreamReader[O](sr), nil
}

func (r *runnable[I, O]) Collect(ctx context.Context, input *schema.StreamReader[I], opts ...Option) (output O, err error) {
	ctx = r.initRootCallbacks(ctx, opts)
	out, err := r.cr.c(ctx, packStreamReader(input), toAnyList(opts)...)
	if err != nil {
		return output, err
	}
	output, err = assertValue[O](out, generic.TypeOf[O]())
	if err != nil {
		return output, wrapStageError(r.name, err)
	}
	return output, nil
}

func (r *runnable[I, O]) Transform(ctx context.Context, input *schema.StreamReader[I], opts ...Option) (
	*schema.StreamReader[O], error) {
	ctx = r.initRootCallbacks(ctx, opts)
	sr, err := r.cr.t(ctx, packStreamReader(input), toAnyList(opts)...)
	if err != nil {
		return nil, err
	}
	return unpackStreamReader[O](sr), nil
}

// Batch 并发执行全部输入，WithBatchConcurrency 限制并发数。
// 某个输入失败不会取消其他输入；全部结束后返回下标最小的错误，其 Index 为该输入的下标。
func (r *runnable[I, O]) Batch(ctx context.Context, inputs []I, opts ...Option) ([]O, error) {
	outputs := make([]O, len(inputs))
	errs := make([]error, len(inputs))

	var g errgroup.Group
	if n := batchConcurrency(opts); n > 0 {
		g.SetLimit(n)
	}
	for i := range inputs {
		g.Go(func() error {
			outputs[i], errs[i] = r.Invoke(ctx, inputs[i], opts...)
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, withBatchIndex(r.name, i, err)
		}
	}
	return outputs, nil
}

// RunnableStage 把已编译的流水线包装为阶段，以便嵌套到其他链或并行映射中。
func RunnableStage[I, O any](r Runnable[I, O]) Stage {
	if r == nil {
		return &componentStage{err: errNilRunnable}
	}
	if rr, ok := r.(*runnable[I, O]); ok {
		return rr
	}
	return anyLambda[I, O, Option](r.Invoke, r.Stream, r.Collect, r.Transform, WithLambdaType("Runnable"))
}
