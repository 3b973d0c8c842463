package parser

import (
	"context"

	"github.com/favbox/eino-chains/schema"
)

var _ StreamParser[string] = StrParser{}

// StrParser 取消息内容。流式下每个分块直接输出其内容，空分块被跳过。
type StrParser struct{}

func (StrParser) Parse(_ context.Context, m *schema.Message) (string, error) {
	if m == nil {
		return "", &schema.ParseError{Parser: "StrParser", Err: errNilMessage}
	}
	return m.Content, nil
}

func (StrParser) Transform(_ context.Context, in *schema.StreamReader[*schema.Message]) (*schema.StreamReader[string], error) {
	return schema.StreamReaderWithConvert(in, func(m *schema.Message) (string, error) {
		if m == nil || m.Content == "" {
			return "", schema.ErrNoValue
		}
		return m.Content, nil
	}), nil
}

func (StrParser) GetType() string {
	return "StrParser"
}
