package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/favbox/eino-chains/schema"
)

var errNilMessage = errors.New("nil message")

// ParseFrom 解析的数据来源。
type ParseFrom string

const (
	ParseFromContent  ParseFrom = "content"
	ParseFromToolCall ParseFrom = "tool_call"
)

type JSONParserConfig struct {
	ParseFrom ParseFrom `json:"parse_from,omitempty"`
	// KeyPath 以 . 分隔的字段路径，为空时解析整个 JSON。
	KeyPath string `json:"key_path,omitempty"`
}

// JSONParser 把消息内容或首个工具调用的参数解析为 T。
// 内容被 ```json 代码块包裹时会先剥离围栏。
type JSONParser[T any] struct {
	from ParseFrom
	keys []any
}

func NewJSONParser[T any](config *JSONParserConfig) *JSONParser[T] {
	if config == nil {
		config = &JSONParserConfig{}
	}
	p := &JSONParser[T]{from: config.ParseFrom}
	if p.from == "" {
		p.from = ParseFromContent
	}
	if config.KeyPath != "" {
		for _, k := range strings.Split(config.KeyPath, ".") {
			p.keys = append(p.keys, k)
		}
	}
	return p
}

// NewJSONKeyToolParser 读取首个工具调用参数中 key 对应的值。
//
//	p := parser.NewJSONKeyToolParser[string]("setup")
func NewJSONKeyToolParser[T any](key string) *JSONParser[T] {
	return NewJSONParser[T](&JSONParserConfig{ParseFrom: ParseFromToolCall, KeyPath: key})
}

func (p *JSONParser[T]) Parse(_ context.Context, m *schema.Message) (T, error) {
	var zero T
	if m == nil {
		return zero, p.fail("", errNilMessage)
	}

	var raw string
	switch p.from {
	case ParseFromContent:
		raw = stripFence(m.Content)
	case ParseFromToolCall:
		if len(m.ToolCalls) == 0 {
			return zero, p.fail(m.Content, errors.New("message has no tool calls"))
		}
		raw = m.ToolCalls[0].Function.Arguments
	default:
		return zero, p.fail(m.Content, fmt.Errorf("unknown parse source %q", p.from))
	}

	return p.decode(raw)
}

func (p *JSONParser[T]) decode(raw string) (T, error) {
	var parsed T

	data := raw
	if len(p.keys) > 0 {
		node, err := sonic.GetFromString(raw, p.keys...)
		if err != nil {
			return parsed, p.fail(raw, fmt.Errorf("get key path %v: %w", p.keys, err))
		}
		b, err := node.MarshalJSON()
		if err != nil {
			return parsed, p.fail(raw, err)
		}
		data = string(b)
	}

	if err := sonic.UnmarshalString(data, &parsed); err != nil {
		return parsed, p.fail(raw, err)
	}
	return parsed, nil
}

func (p *JSONParser[T]) fail(raw string, err error) error {
	return &schema.ParseError{Parser: p.GetType(), Raw: raw, Err: err}
}

func (p *JSONParser[T]) GetType() string {
	return "JSONParser"
}

// stripFence 去掉 Markdown 代码块围栏，没有围栏时原样返回。
func stripFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		// 去掉语言标记，如 ```json
		t = t[nl+1:]
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}
