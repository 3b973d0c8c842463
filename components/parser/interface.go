package parser

import (
	"context"

	"github.com/favbox/eino-chains/schema"
)

// Parser 把模型输出的消息解析为 T。解析失败返回 *schema.ParseError。
type Parser[T any] interface {
	Parse(ctx context.Context, m *schema.Message) (T, error)
}

// StreamParser 可逐块解析的解析器，用于在模型流式输出时边收边解析。
type StreamParser[T any] interface {
	Parser[T]
	Transform(ctx context.Context, in *schema.StreamReader[*schema.Message]) (*schema.StreamReader[T], error)
}
