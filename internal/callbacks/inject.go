package callbacks

import (
	"context"

	"github.com/favbox/eino-chains/components"
	"github.com/favbox/eino-chains/schema"
)

// InitCallbacks 以给定的处理器与运行信息创建新的回调上下文，覆盖 ctx 中已有的处理器。
func InitCallbacks(ctx context.Context, info *RunInfo, handlers ...Handler) context.Context {
	mgr, ok := newManager(info, handlers...)
	if !ok {
		return ctxWithManager(ctx, nil)
	}
	return ctxWithManager(ctx, mgr)
}

// ReuseHandlers 保留 ctx 中的处理器，只替换运行信息。
func ReuseHandlers(ctx context.Context, info *RunInfo) context.Context {
	mgr, ok := managerFromCtx(ctx)
	if !ok {
		return InitCallbacks(ctx, info)
	}
	return ctxWithManager(ctx, mgr.withRunInfo(info))
}

// AppendHandlers 在 ctx 已有处理器之后追加处理器。
func AppendHandlers(ctx context.Context, info *RunInfo, handlers ...Handler) context.Context {
	mgr, ok := managerFromCtx(ctx)
	if !ok {
		return InitCallbacks(ctx, info, handlers...)
	}

	hs := make([]Handler, 0, len(mgr.handlers)+len(handlers))
	hs = append(hs, mgr.handlers...)
	hs = append(hs, handlers...)
	return InitCallbacks(ctx, info, hs...)
}

// EnsureRunInfo 组件被单独调用（不经过 compose）时补齐运行信息。
func EnsureRunInfo(ctx context.Context, typ string, comp components.Component) context.Context {
	mgr, ok := managerFromCtx(ctx)
	if !ok {
		return InitCallbacks(ctx, &RunInfo{Type: typ, Component: comp})
	}
	if mgr.runInfo == nil {
		return ReuseHandlers(ctx, &RunInfo{Type: typ, Component: comp})
	}
	return ctx
}

// Handle 某一时机的处理函数。
type Handle[T any] func(context.Context, T, *RunInfo, []Handler) (context.Context, T)

// On 取出 ctx 中适用于 timing 的处理器并执行 handle。
// start 为 true 时运行信息从管理器转移到 ctx 上，供同一执行单元的结束回调读取，
// 避免被嵌套的子单元继承。
func On[T any](ctx context.Context, inOut T, handle Handle[T], timing CallbackTiming, start bool) (context.Context, T) {
	mgr, ok := managerFromCtx(ctx)
	if !ok {
		return ctx, inOut
	}

	var info *RunInfo
	if start {
		info = mgr.runInfo
		mgr.runInfo = nil
		ctx = context.WithValue(ctx, ctxRunInfoKey{}, info)
	} else if mgr.runInfo != nil {
		info = mgr.runInfo
	} else {
		info, _ = ctx.Value(ctxRunInfoKey{}).(*RunInfo)
	}

	all := append(append([]Handler{}, mgr.handlers...), mgr.globalHandlers...)
	hs := make([]Handler, 0, len(all))
	for _, h := range all {
		if enabled(ctx, h, info, timing) {
			hs = append(hs, h)
		}
	}

	ctx, out := handle(ctx, inOut, info, hs)
	return ctxWithManager(ctx, mgr), out
}

// OnStartHandle 开始回调逆序执行，与结束回调形成嵌套。
func OnStartHandle[T any](ctx context.Context, input T, info *RunInfo, hs []Handler) (context.Context, T) {
	for i := len(hs) - 1; i >= 0; i-- {
		ctx = hs[i].OnStart(ctx, info, input)
	}
	return ctx, input
}

func OnEndHandle[T any](ctx context.Context, output T, info *RunInfo, hs []Handler) (context.Context, T) {
	for _, h := range hs {
		ctx = h.OnEnd(ctx, info, output)
	}
	return ctx, output
}

func OnErrorHandle(ctx context.Context, err error, info *RunInfo, hs []Handler) (context.Context, error) {
	for _, h := range hs {
		ctx = h.OnError(ctx, info, err)
	}
	return ctx, err
}

func OnStartWithStreamInputHandle[T any](ctx context.Context, input *schema.StreamReader[T],
	info *RunInfo, hs []Handler) (context.Context, *schema.StreamReader[T]) {
	if len(hs) == 0 {
		return ctx, input
	}

	copies := input.Copy(len(hs) + 1)
	for i := len(hs) - 1; i >= 0; i-- {
		ctx = hs[i].OnStartWithStreamInput(ctx, info, toCallbackStream[T, CallbackInput](copies[i]))
	}
	return ctx, copies[len(hs)]
}

func OnEndWithStreamOutputHandle[T any](ctx context.Context, output *schema.StreamReader[T],
	info *RunInfo, hs []Handler) (context.Context, *schema.StreamReader[T]) {
	if len(hs) == 0 {
		return ctx, output
	}

	copies := output.Copy(len(hs) + 1)
	for i, h := range hs {
		ctx = h.OnEndWithStreamOutput(ctx, info, toCallbackStream[T, CallbackOutput](copies[i]))
	}
	return ctx, copies[len(hs)]
}

func toCallbackStream[T, D any](sr *schema.StreamReader[T]) *schema.StreamReader[D] {
	return schema.StreamReaderWithConvert(sr, func(t T) (D, error) {
		d, _ := any(t).(D)
		return d, nil
	})
}
