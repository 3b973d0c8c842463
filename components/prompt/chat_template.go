package prompt

import (
	"context"
	"strings"

	"github.com/favbox/eino-chains/callbacks"
	"github.com/favbox/eino-chains/components"
	"github.com/favbox/eino-chains/schema"
)

// DefaultChatTemplate 由若干消息模板组成，按顺序格式化后拼接为消息列表。
// 构建后不可变，可被多个流水线并发使用。
type DefaultChatTemplate struct {
	templates  []schema.MessagesTemplate
	formatType schema.FormatType
	partials   map[string]any
}

// FromMessages 用给定格式的消息模板构建提示词。
//
//	tpl := prompt.FromMessages(schema.FString,
//		schema.SystemMessage("You are a helpful assistant that translates {input_language} to {output_language}."),
//		schema.UserMessage("{text}"),
//	)
func FromMessages(formatType schema.FormatType, templates ...schema.MessagesTemplate) *DefaultChatTemplate {
	return &DefaultChatTemplate{
		templates:  templates,
		formatType: formatType,
	}
}

// FromTemplate 单条用户消息的 FString 模板。
func FromTemplate(tpl string) *DefaultChatTemplate {
	return FromMessages(schema.FString, schema.UserMessage(tpl))
}

// WithPartialVariables 返回带默认变量的新模板，Format 传入的同名变量优先。
// 值为 func() string 时在每次格式化时求值。
func (t *DefaultChatTemplate) WithPartialVariables(vs map[string]any) *DefaultChatTemplate {
	partials := make(map[string]any, len(t.partials)+len(vs))
	for k, v := range t.partials {
		partials[k] = v
	}
	for k, v := range vs {
		partials[k] = v
	}

	n := *t
	n.partials = partials
	return &n
}

func (t *DefaultChatTemplate) Format(ctx context.Context,
	vs map[string]any, opts ...Option) (result []*schema.Message, err error) {
	ctx = callbacks.EnsureRunInfo(ctx, t.GetType(), components.ComponentOfPrompt)
	ctx = callbacks.OnStart(ctx, &CallbackInput{
		Variables: vs,
		Templates: t.templates,
	})
	defer func() {
		if err != nil {
			_ = callbacks.OnError(ctx, err)
		}
	}()

	merged := t.variables(vs, GetCommonOptions(nil, opts...))

	result = make([]*schema.Message, 0, len(t.templates))
	for _, template := range t.templates {
		msgs, err := template.Format(ctx, merged, t.formatType)
		if err != nil {
			return nil, err
		}
		result = append(result, msgs...)
	}

	_ = callbacks.OnEnd(ctx, &CallbackOutput{
		Result:    result,
		Templates: t.templates,
	})

	return result, nil
}

// variables 优先级：partials < 调用选项 < Format 参数。
func (t *DefaultChatTemplate) variables(vs map[string]any, o *Options) map[string]any {
	if len(t.partials) == 0 && len(o.Variables) == 0 {
		return vs
	}

	merged := make(map[string]any, len(t.partials)+len(o.Variables)+len(vs))
	for k, v := range t.partials {
		if fn, ok := v.(func() string); ok {
			v = fn()
		}
		merged[k] = v
	}
	for k, v := range o.Variables {
		merged[k] = v
	}
	for k, v := range vs {
		merged[k] = v
	}
	return merged
}

func (t *DefaultChatTemplate) GetType() string {
	return "Default"
}

func (t *DefaultChatTemplate) IsCallbacksEnabled() bool {
	return true
}

// MessagesToString 把消息列表渲染为纯文本，供只接受字符串的模型使用。
// 单条消息直接返回内容，多条消息按 "Role: content" 逐行拼接。
func MessagesToString(msgs []*schema.Message) string {
	if len(msgs) == 1 {
		return msgs[0].Content
	}

	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(roleName(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
	}
	return sb.String()
}

func roleName(r schema.RoleType) string {
	switch r {
	case schema.System:
		return "System"
	case schema.User:
		return "Human"
	case schema.Assistant:
		return "AI"
	case schema.Tool:
		return "Tool"
	default:
		return string(r)
	}
}
