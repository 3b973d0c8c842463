package callbacks

import (
	"context"

	"github.com/favbox/eino-chains/components"
	"github.com/favbox/eino-chains/internal/callbacks"
	"github.com/favbox/eino-chains/schema"
)

// 以下函数供自行触发回调的组件实现使用（components.Checker 返回 true 的组件）。
//
//	func (m *MyModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
//		ctx = callbacks.EnsureRunInfo(ctx, m.GetType(), components.ComponentOfChatModel)
//		ctx = callbacks.OnStart(ctx, &model.CallbackInput{Messages: in})
//		out, err := m.generate(ctx, in, opts...)
//		if err != nil {
//			callbacks.OnError(ctx, err)
//			return nil, err
//		}
//		callbacks.OnEnd(ctx, &model.CallbackOutput{Message: out})
//		return out, nil
//	}

// OnStart 触发开始回调。
func OnStart[T any](ctx context.Context, input T) context.Context {
	ctx, _ = callbacks.On(ctx, input, callbacks.OnStartHandle[T], TimingOnStart, true)
	return ctx
}

// OnEnd 触发结束回调。
func OnEnd[T any](ctx context.Context, output T) context.Context {
	ctx, _ = callbacks.On(ctx, output, callbacks.OnEndHandle[T], TimingOnEnd, false)
	return ctx
}

// OnStartWithStreamInput 触发流式输入开始回调，返回的新流供组件继续读取。
func OnStartWithStreamInput[T any](ctx context.Context, input *schema.StreamReader[T]) (
	context.Context, *schema.StreamReader[T]) {
	return callbacks.On(ctx, input, callbacks.OnStartWithStreamInputHandle[T], TimingOnStartWithStreamInput, true)
}

// OnEndWithStreamOutput 触发流式输出结束回调，返回的新流应交给下游。
func OnEndWithStreamOutput[T any](ctx context.Context, output *schema.StreamReader[T]) (
	context.Context, *schema.StreamReader[T]) {
	return callbacks.On(ctx, output, callbacks.OnEndWithStreamOutputHandle[T], TimingOnEndWithStreamOutput, false)
}

// OnError 触发错误回调。
func OnError(ctx context.Context, err error) context.Context {
	ctx, _ = callbacks.On(ctx, err, callbacks.OnErrorHandle, TimingOnError, false)
	return ctx
}

// EnsureRunInfo 组件被单独调用时补齐运行信息；经由 compose 调用时保持不变。
func EnsureRunInfo(ctx context.Context, typ string, comp components.Component) context.Context {
	return callbacks.EnsureRunInfo(ctx, typ, comp)
}

// InitCallbacks 以 handlers 替换 ctx 中的处理器。
func InitCallbacks(ctx context.Context, info *RunInfo, handlers ...Handler) context.Context {
	return callbacks.InitCallbacks(ctx, info, handlers...)
}

// ReuseHandlers 保留处理器，替换运行信息。
func ReuseHandlers(ctx context.Context, info *RunInfo) context.Context {
	return callbacks.ReuseHandlers(ctx, info)
}
