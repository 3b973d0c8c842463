package schema

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/nikolalohinski/gonja"
	"github.com/nikolalohinski/gonja/config"
	"github.com/nikolalohinski/gonja/nodes"
	"github.com/nikolalohinski/gonja/parser"
	"github.com/slongfield/pyfmt"

	"github.com/favbox/eino-chains/internal"
	"github.com/favbox/eino-chains/internal/gmap"
)

func init() {
	internal.RegisterStreamChunkConcatFunc(ConcatMessages)
}

// FormatType 消息模板的格式化方式。
type FormatType uint8

const (
	// FString Python 风格的 {var} 占位符，由 pyfmt 实现。
	FString FormatType = 0
	// GoTemplate 标准库 text/template，缺失变量即报错。
	GoTemplate FormatType = 1
	// Jinja2 由 gonja 实现，禁用了 include/extends/import/from。
	Jinja2 FormatType = 2
)

func (f FormatType) String() string {
	switch f {
	case FString:
		return "fstring"
	case GoTemplate:
		return "gotemplate"
	case Jinja2:
		return "jinja2"
	default:
		return fmt.Sprintf("FormatType(%d)", uint8(f))
	}
}

// RoleType 消息角色。
type RoleType string

const (
	Assistant RoleType = "assistant"
	User      RoleType = "user"
	System    RoleType = "system"
	Tool      RoleType = "tool"
)

// FunctionCall 函数调用，Arguments 为 JSON 字符串。
type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ToolCall 助手消息中的工具调用。
// 流式输出时 Index 用于把同一次调用的多个分块合并起来。
type ToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`

	Extra map[string]any `json:"extra,omitempty"`
}

// TokenUsage 单次请求的 token 用量。
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ResponseMeta 模型响应的元信息。
type ResponseMeta struct {
	// FinishReason 如 "stop"、"length"、"tool_calls"，取决于模型实现。
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Message 模型的输入与输出。
type Message struct {
	Role    RoleType `json:"role"`
	Content string   `json:"content"`
	Name    string   `json:"name,omitempty"`

	// ToolCalls 仅用于助手消息。
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID 与 ToolName 仅用于工具消息。
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`

	ResponseMeta *ResponseMeta `json:"response_meta,omitempty"`

	// Extra 由模型实现自定义的信息。
	Extra map[string]any `json:"extra,omitempty"`
}

// MessagesTemplate 可渲染为消息列表的模板。
//
//	tpl := prompt.FromMessages(schema.FString,
//		schema.SystemMessage("you are a helpful assistant"),
//		schema.MessagesPlaceholder("history", true),
//		schema.UserMessage("{question}"),
//	)
type MessagesTemplate interface {
	Format(ctx context.Context, vs map[string]any, formatType FormatType) ([]*Message, error)
}

var (
	_ MessagesTemplate = &Message{}
	_ MessagesTemplate = MessagesPlaceholder("", false)
)

type messagesPlaceholder struct {
	key      string
	optional bool
}

// MessagesPlaceholder 渲染时直接取 vs[key] 中的 []*Message。
// optional 为 true 时缺失键渲染为空列表。
func MessagesPlaceholder(key string, optional bool) MessagesTemplate {
	return &messagesPlaceholder{key: key, optional: optional}
}

func (p *messagesPlaceholder) Format(_ context.Context, vs map[string]any, _ FormatType) ([]*Message, error) {
	v, ok := vs[p.key]
	if !ok {
		if p.optional {
			return []*Message{}, nil
		}
		return nil, &FormatError{Variable: p.key}
	}

	msgs, ok := v.([]*Message)
	if !ok {
		return nil, &FormatError{Err: fmt.Errorf("placeholder %q expects []*schema.Message, got %v", p.key, reflect.TypeOf(v))}
	}

	return msgs, nil
}

// Format 渲染消息内容并返回副本，原消息不变。
//
//	msgs, err := schema.UserMessage("tell me a joke about {topic}").
//		Format(ctx, map[string]any{"topic": "bears"}, schema.FString)
func (m *Message) Format(_ context.Context, vs map[string]any, formatType FormatType) ([]*Message, error) {
	c, err := FormatContent(m.Content, vs, formatType)
	if err != nil {
		return nil, err
	}

	copied := *m
	copied.Content = c
	return []*Message{&copied}, nil
}

// FormatContent 按格式类型渲染字符串模板，失败时返回 *FormatError。
func FormatContent(content string, vs map[string]any, formatType FormatType) (string, error) {
	switch formatType {
	case FString:
		names, err := FStringVariables(content)
		if err != nil {
			return "", &FormatError{Err: err}
		}
		for _, name := range names {
			if _, ok := vs[name]; !ok {
				return "", &FormatError{Variable: name}
			}
		}
		// 无占位符时不经过 pyfmt，避免把字面量花括号之外的内容误判
		if len(names) == 0 {
			return unescapeBraces(content), nil
		}
		out, err := pyfmt.Fmt(content, vs)
		if err != nil {
			return "", &FormatError{Err: err}
		}
		return out, nil

	case GoTemplate:
		tpl, err := template.New("template").Option("missingkey=error").Parse(content)
		if err != nil {
			return "", &FormatError{Err: err}
		}
		sb := new(strings.Builder)
		if err = tpl.Execute(sb, vs); err != nil {
			if m := goTplMissingKey.FindStringSubmatch(err.Error()); len(m) == 2 {
				return "", &FormatError{Variable: m[1], Err: err}
			}
			return "", &FormatError{Err: err}
		}
		return sb.String(), nil

	case Jinja2:
		env, err := getJinjaEnv()
		if err != nil {
			return "", &FormatError{Err: err}
		}
		tpl, err := env.FromString(content)
		if err != nil {
			return "", &FormatError{Err: err}
		}
		out, err := tpl.Execute(vs)
		if err != nil {
			return "", &FormatError{Err: err}
		}
		return out, nil

	default:
		return "", &FormatError{Err: fmt.Errorf("unknown format type: %v", formatType)}
	}
}

var goTplMissingKey = regexp.MustCompile(`no entry for key "([^"]+)"`)

// FStringVariables 返回 FString 模板中引用的变量名（去重，按出现顺序）。
// "{{" 与 "}}" 为转义的花括号；"{a.b}"、"{a[0]}"、"{a:>10}" 均引用变量 a。
func FStringVariables(tpl string) ([]string, error) {
	var (
		names []string
		seen  = map[string]bool{}
	)

	for i := 0; i < len(tpl); i++ {
		switch tpl[i] {
		case '{':
			if i+1 < len(tpl) && tpl[i+1] == '{' {
				i++
				continue
			}
			end := strings.IndexByte(tpl[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("unclosed '{' at offset %d", i)
			}
			field := tpl[i+1 : i+1+end]
			if cut := strings.IndexAny(field, ".[:!"); cut >= 0 {
				field = field[:cut]
			}
			field = strings.TrimSpace(field)
			if field == "" {
				return nil, fmt.Errorf("positional placeholder at offset %d is not supported", i)
			}
			if !seen[field] {
				seen[field] = true
				names = append(names, field)
			}
			i += end + 1
		case '}':
			if i+1 < len(tpl) && tpl[i+1] == '}' {
				i++
				continue
			}
			return nil, fmt.Errorf("single '}' at offset %d", i)
		}
	}

	return names, nil
}

func unescapeBraces(s string) string {
	return strings.NewReplacer("{{", "{", "}}", "}").Replace(s)
}

// String 便于日志输出。
func (m *Message) String() string {
	sb := &strings.Builder{}
	sb.WriteString(fmt.Sprintf("%s: %s", m.Role, m.Content))
	if len(m.ToolCalls) > 0 {
		sb.WriteString("\ntool_calls:\n")
		for _, tc := range m.ToolCalls {
			if tc.Index != nil {
				sb.WriteString(fmt.Sprintf("index[%d]:", *tc.Index))
			}
			sb.WriteString(fmt.Sprintf("%+v\n", tc))
		}
	}
	if m.ToolCallID != "" {
		sb.WriteString(fmt.Sprintf("\ntool_call_id: %s", m.ToolCallID))
	}
	if m.ResponseMeta != nil {
		sb.WriteString(fmt.Sprintf("\nfinish_reason: %s", m.ResponseMeta.FinishReason))
		if m.ResponseMeta.Usage != nil {
			sb.WriteString(fmt.Sprintf("\nusage: %v", m.ResponseMeta.Usage))
		}
	}
	return sb.String()
}

func SystemMessage(content string) *Message {
	return &Message{Role: System, Content: content}
}

func UserMessage(content string) *Message {
	return &Message{Role: User, Content: content}
}

func AssistantMessage(content string, toolCalls []ToolCall) *Message {
	return &Message{Role: Assistant, Content: content, ToolCalls: toolCalls}
}

// ToolMessage 工具执行结果。
func ToolMessage(content string, toolCallID, toolName string) *Message {
	return &Message{Role: Tool, Content: content, ToolCallID: toolCallID, ToolName: toolName}
}

// ConcatMessages 合并流式消息分块：内容拼接，工具调用按 Index 合并，
// 角色或名称不一致时报错。
func ConcatMessages(msgs []*Message) (*Message, error) {
	var (
		contents  strings.Builder
		toolCalls []ToolCall
		extras    []map[string]any
		ret       = Message{}
	)

	for idx, msg := range msgs {
		if msg == nil {
			return nil, fmt.Errorf("unexpected nil chunk in message stream, index: %d", idx)
		}

		if err := mergeField(&ret.Role, msg.Role, "roles"); err != nil {
			return nil, err
		}
		if err := mergeField(&ret.Name, msg.Name, "names"); err != nil {
			return nil, err
		}
		if err := mergeField(&ret.ToolCallID, msg.ToolCallID, "tool call ids"); err != nil {
			return nil, err
		}
		if err := mergeField(&ret.ToolName, msg.ToolName, "tool names"); err != nil {
			return nil, err
		}

		contents.WriteString(msg.Content)
		toolCalls = append(toolCalls, msg.ToolCalls...)
		if len(msg.Extra) > 0 {
			extras = append(extras, msg.Extra)
		}

		if rm := msg.ResponseMeta; rm != nil {
			if ret.ResponseMeta == nil {
				ret.ResponseMeta = &ResponseMeta{}
			}
			if rm.FinishReason != "" {
				ret.ResponseMeta.FinishReason = rm.FinishReason
			}
			if rm.Usage != nil {
				if ret.ResponseMeta.Usage == nil {
					ret.ResponseMeta.Usage = &TokenUsage{}
				}
				u := ret.ResponseMeta.Usage
				u.PromptTokens = max(u.PromptTokens, rm.Usage.PromptTokens)
				u.CompletionTokens = max(u.CompletionTokens, rm.Usage.CompletionTokens)
				u.TotalTokens = max(u.TotalTokens, rm.Usage.TotalTokens)
			}
		}
	}

	ret.Content = contents.String()

	if len(toolCalls) > 0 {
		merged, err := concatToolCalls(toolCalls)
		if err != nil {
			return nil, err
		}
		ret.ToolCalls = merged
	}

	switch len(extras) {
	case 0:
	case 1:
		ret.Extra = gmap.Clone(extras[0])
	default:
		extra, err := internal.ConcatItems(extras)
		if err != nil {
			return nil, fmt.Errorf("failed to concat message's extra: %w", err)
		}
		ret.Extra = extra
	}

	return &ret, nil
}

func mergeField[T comparable](dst *T, v T, what string) error {
	var zero T
	if v == zero {
		return nil
	}
	if *dst == zero {
		*dst = v
		return nil
	}
	if *dst != v {
		return fmt.Errorf("cannot concat messages with different %s: '%v' '%v'", what, *dst, v)
	}
	return nil
}

// concatToolCalls 按 Index 合并工具调用分块。ID、类型、函数名在分块中只会完整出现一次，
// 参数片段按顺序拼接。无 Index 的调用原样保留并排在最前。
func concatToolCalls(chunks []ToolCall) ([]ToolCall, error) {
	var (
		merged []ToolCall
		order  []int
		groups = map[int][]int{}
	)
	for i := range chunks {
		if chunks[i].Index == nil {
			merged = append(merged, chunks[i])
			continue
		}
		idx := *chunks[i].Index
		if _, ok := groups[idx]; !ok {
			order = append(order, idx)
		}
		groups[idx] = append(groups[idx], i)
	}

	sort.Ints(order)
	for _, idx := range order {
		call := chunks[groups[idx][0]]
		var args strings.Builder
		id, typ, name := "", "", ""

		for _, n := range groups[idx] {
			c := chunks[n]
			if err := mergeToolField(&id, c.ID, "id"); err != nil {
				return nil, err
			}
			if err := mergeToolField(&typ, c.Type, "type"); err != nil {
				return nil, err
			}
			if err := mergeToolField(&name, c.Function.Name, "name"); err != nil {
				return nil, err
			}
			args.WriteString(c.Function.Arguments)
		}

		call.ID = id
		call.Type = typ
		call.Function.Name = name
		call.Function.Arguments = args.String()
		merged = append(merged, call)
	}

	return merged, nil
}

func mergeToolField(dst *string, v, what string) error {
	if v == "" {
		return nil
	}
	if *dst == "" {
		*dst = v
		return nil
	}
	if *dst != v {
		return fmt.Errorf("cannot concat ToolCalls with different tool %s: '%s' '%s'", what, *dst, v)
	}
	return nil
}

// ConcatMessageStream 读完消息流并合并为一条消息。
func ConcatMessageStream(s *StreamReader[*Message]) (*Message, error) {
	defer s.Close()

	var msgs []*Message
	for {
		msg, err := s.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}

	return ConcatMessages(msgs)
}

var (
	jinjaEnvOnce sync.Once
	jinjaEnv     *gonja.Environment
	jinjaEnvErr  error
)

// getJinjaEnv 返回禁用了模板加载类语句的 gonja 环境。
func getJinjaEnv() (*gonja.Environment, error) {
	jinjaEnvOnce.Do(func() {
		jinjaEnv = gonja.NewEnvironment(config.DefaultConfig, gonja.DefaultLoader)
		for _, kw := range []string{"include", "extends", "import", "from"} {
			if !jinjaEnv.Statements.Exists(kw) {
				continue
			}
			kw := kw
			err := jinjaEnv.Statements.Replace(kw, func(*parser.Parser, *parser.Parser) (nodes.Statement, error) {
				return nil, fmt.Errorf("keyword[%s] has been disabled", kw)
			})
			if err != nil {
				jinjaEnvErr = fmt.Errorf("init jinja env fail: %w", err)
				return
			}
		}
	})
	return jinjaEnv, jinjaEnvErr
}
