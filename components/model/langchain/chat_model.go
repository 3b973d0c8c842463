// Package langchain 把 langchaingo 的 llms.Model 适配为对话模型，
// 借此接入 langchaingo 支持的各家模型服务（Anthropic、Gemini、Ollama 等）。
package langchain

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/tmc/langchaingo/llms"

	"github.com/favbox/eino-chains/components/model"
	"github.com/favbox/eino-chains/internal/safe"
	"github.com/favbox/eino-chains/schema"
)

// ChatModel 不自行触发回调，由 compose 统一包裹。
type ChatModel struct {
	llm   llms.Model
	name  string
	tools []*schema.ToolInfo
}

var _ model.ToolCallingChatModel = (*ChatModel)(nil)

// NewChatModel name 用作 GetType 的返回值，为空时取 "LangChain"。
func NewChatModel(llm llms.Model, name string) (*ChatModel, error) {
	if llm == nil {
		return nil, errors.New("langchain llm is nil")
	}
	if name == "" {
		name = "LangChain"
	}
	return &ChatModel{llm: llm, name: name}, nil
}

func (cm *ChatModel) GetType() string {
	return cm.name
}

func (cm *ChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	if len(tools) == 0 {
		return nil, errors.New("no tools to bind")
	}
	if _, err := toTools(tools); err != nil {
		return nil, err
	}
	nc := *cm
	nc.tools = append([]*schema.ToolInfo(nil), tools...)
	return &nc, nil
}

func (cm *ChatModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	msgs, callOpts, err := cm.prepare(in, opts...)
	if err != nil {
		return nil, err
	}
	resp, err := cm.llm.GenerateContent(ctx, msgs, callOpts...)
	if err != nil {
		return nil, &schema.TransportError{Op: "GenerateContent", Err: err}
	}
	return toMessage(resp, nil)
}

// Stream 文本增量经 llms.WithStreamingFunc 逐块输出，
// 工具调用、结束原因与用量在最后一个分块中给出。
func (cm *ChatModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (
	*schema.StreamReader[*schema.Message], error) {

	msgs, callOpts, err := cm.prepare(in, opts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sr, sw := schema.Pipe[*schema.Message](16)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				_ = sw.Send(nil, safe.NewPanicErr(p, debug.Stack()))
			}
			sw.Close()
			cancel()
		}()

		onChunk := llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			if closed := sw.Send(&schema.Message{Role: schema.Assistant, Content: string(chunk)}, nil); closed {
				return errors.New("stream closed by consumer")
			}
			return nil
		})

		resp, gErr := cm.llm.GenerateContent(ctx, msgs, append(callOpts, onChunk)...)
		if gErr != nil {
			_ = sw.Send(nil, &schema.TransportError{Op: "GenerateContent", Err: gErr})
			return
		}

		final, cErr := toMessage(resp, new(int))
		if cErr != nil {
			_ = sw.Send(nil, cErr)
			return
		}
		// 正文已逐块发出
		final.Content = ""
		_ = sw.Send(final, nil)
	}()

	return sr, nil
}

func (cm *ChatModel) prepare(in []*schema.Message, opts ...model.Option) ([]llms.MessageContent, []llms.CallOption, error) {
	if len(in) == 0 {
		return nil, nil, errors.New("langchain chat model: input messages are empty")
	}

	o := model.GetCommonOptions(&model.Options{Tools: cm.tools}, opts...)

	msgs, err := toMessageContents(in)
	if err != nil {
		return nil, nil, err
	}

	var callOpts []llms.CallOption
	if o.Model != nil {
		callOpts = append(callOpts, llms.WithModel(*o.Model))
	}
	if o.Temperature != nil {
		callOpts = append(callOpts, llms.WithTemperature(float64(*o.Temperature)))
	}
	if o.MaxTokens != nil {
		callOpts = append(callOpts, llms.WithMaxTokens(*o.MaxTokens))
	}
	if o.TopP != nil {
		callOpts = append(callOpts, llms.WithTopP(float64(*o.TopP)))
	}
	if len(o.Stop) > 0 {
		callOpts = append(callOpts, llms.WithStopWords(o.Stop))
	}

	tools, err := toTools(o.Tools)
	if err != nil {
		return nil, nil, err
	}
	if len(tools) > 0 {
		callOpts = append(callOpts, llms.WithTools(tools))
	}
	if choice := toolChoice(o); choice != nil {
		callOpts = append(callOpts, llms.WithToolChoice(choice))
	}
	return msgs, callOpts, nil
}

func toMessageContents(in []*schema.Message) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(in))
	for i, m := range in {
		if m == nil {
			return nil, fmt.Errorf("message %d is nil", i)
		}
		switch m.Role {
		case schema.System:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))
		case schema.User:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		case schema.Assistant:
			mc := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if m.Content != "" {
				mc.Parts = append(mc.Parts, llms.TextPart(m.Content))
			}
			for _, tc := range m.ToolCalls {
				mc.Parts = append(mc.Parts, llms.ToolCall{
					ID:   tc.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			out = append(out, mc)
		case schema.Tool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: m.ToolCallID,
					Name:       m.ToolName,
					Content:    m.Content,
				}},
			})
		default:
			return nil, fmt.Errorf("message %d has unsupported role %q", i, m.Role)
		}
	}
	return out, nil
}

func toTools(infos []*schema.ToolInfo) ([]llms.Tool, error) {
	out := make([]llms.Tool, 0, len(infos))
	for _, ti := range infos {
		if ti == nil {
			return nil, errors.New("tool info is nil")
		}
		var params any = map[string]any{"type": "object", "properties": map[string]any{}}
		if ti.ParamsOneOf != nil {
			s, err := ti.ToJSONSchema()
			if err != nil {
				return nil, fmt.Errorf("convert parameters of tool %s: %w", ti.Name, err)
			}
			if s != nil {
				params = s
			}
		}
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        ti.Name,
				Description: ti.Desc,
				Parameters:  params,
			},
		})
	}
	return out, nil
}

func toolChoice(o *model.Options) any {
	if o.ToolChoice == nil {
		return nil
	}
	switch *o.ToolChoice {
	case schema.ToolChoiceForbidden:
		return "none"
	case schema.ToolChoiceAllowed:
		return "auto"
	case schema.ToolChoiceForced:
		if o.ForcedTool != nil && *o.ForcedTool != "" {
			return llms.ToolChoice{Type: "function", Function: &llms.FunctionReference{Name: *o.ForcedTool}}
		}
		return "required"
	}
	return nil
}

// toMessage toolIndex 非空时为工具调用编号，供流式合并使用。
func toMessage(resp *llms.ContentResponse, toolIndex *int) (*schema.Message, error) {
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return nil, &schema.TransportError{Op: "GenerateContent", Err: errors.New("response contains no choices")}
	}
	c := resp.Choices[0]

	msg := &schema.Message{
		Role:         schema.Assistant,
		Content:      c.Content,
		ResponseMeta: &schema.ResponseMeta{FinishReason: c.StopReason, Usage: usageOf(c.GenerationInfo)},
	}
	for i, tc := range c.ToolCalls {
		call := schema.ToolCall{ID: tc.ID, Type: "function"}
		if tc.FunctionCall != nil {
			call.Function = schema.FunctionCall{Name: tc.FunctionCall.Name, Arguments: tc.FunctionCall.Arguments}
		}
		if toolIndex != nil {
			idx := i
			call.Index = &idx
		}
		msg.ToolCalls = append(msg.ToolCalls, call)
	}
	return msg, nil
}

// usageOf 各家实现放在 GenerationInfo 中的键名不一，取常见写法。
func usageOf(info map[string]any) *schema.TokenUsage {
	prompt, okP := intOf(info, "PromptTokens", "input_tokens")
	completion, okC := intOf(info, "CompletionTokens", "output_tokens")
	if !okP && !okC {
		return nil
	}
	total, ok := intOf(info, "TotalTokens")
	if !ok {
		total = prompt + completion
	}
	return &schema.TokenUsage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: total}
}

func intOf(info map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v, true
		case int32:
			return int(v), true
		case int64:
			return int(v), true
		case float64:
			return int(v), true
		}
	}
	return 0, false
}
