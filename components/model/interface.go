package model

import (
	"context"

	"github.com/favbox/eino-chains/schema"
)

//go:generate mockgen -destination ../../internal/mock/components/model/ChatModel_mock.go --package model -source interface.go

// BaseChatModel 对话模型：接收消息序列，返回一条助手消息或其增量流。
//
// Stream 返回的流中，每个分块都是完整消息的一部分，
// 按 schema.ConcatMessages 合并后应与 Generate 的结果等价。
type BaseChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...Option) (*schema.Message, error)
	Stream(ctx context.Context, input []*schema.Message, opts ...Option) (
		*schema.StreamReader[*schema.Message], error)
}

// ToolCallingChatModel 支持函数调用的对话模型。
// WithTools 返回绑定了工具的新实例，原实例不受影响，可并发使用。
type ToolCallingChatModel interface {
	BaseChatModel

	WithTools(tools []*schema.ToolInfo) (ToolCallingChatModel, error)
}
