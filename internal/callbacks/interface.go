package callbacks

import (
	"context"

	"github.com/favbox/eino-chains/components"
	"github.com/favbox/eino-chains/schema"
)

// RunInfo 描述触发回调的执行单元。
type RunInfo struct {
	// Name 阶段名称，如 "joke_prompt"；未命名时为空。
	Name string
	// Type 实现类型，如 "OpenAI"、"Default"。
	Type      string
	Component components.Component
}

type CallbackInput any

type CallbackOutput any

// Handler 回调处理器。每个方法返回的 ctx 会传给同一执行单元的后续回调。
type Handler interface {
	OnStart(ctx context.Context, info *RunInfo, input CallbackInput) context.Context
	OnEnd(ctx context.Context, info *RunInfo, output CallbackOutput) context.Context
	OnError(ctx context.Context, info *RunInfo, err error) context.Context

	// 流式回调拿到的是流的副本，处理器必须读完或关闭它。
	OnStartWithStreamInput(ctx context.Context, info *RunInfo,
		input *schema.StreamReader[CallbackInput]) context.Context
	OnEndWithStreamOutput(ctx context.Context, info *RunInfo,
		output *schema.StreamReader[CallbackOutput]) context.Context
}

type CallbackTiming uint8

const (
	TimingOnStart CallbackTiming = iota
	TimingOnEnd
	TimingOnError
	TimingOnStartWithStreamInput
	TimingOnEndWithStreamOutput
)

// TimingChecker 处理器可选实现，用于跳过不关心的时机。
type TimingChecker interface {
	Needed(ctx context.Context, info *RunInfo, timing CallbackTiming) bool
}
