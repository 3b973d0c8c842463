package openai

import (
	"errors"
	"fmt"

	"github.com/favbox/eino-chains/components/model"
	"github.com/favbox/eino-chains/schema"
)

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float32        `json:"temperature,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	TopP           *float32        `json:"top_p,omitempty"`
	Stop           []string        `json:"stop,omitempty"`
	Seed           *int            `json:"seed,omitempty"`
	User           *string         `json:"user,omitempty"`
	Tools          []tool          `json:"tools,omitempty"`
	ToolChoice     any             `json:"tool_choice,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	StreamOptions  *streamOptions  `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role       string     `json:"role,omitempty"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type tool struct {
	Type     string      `json:"type"`
	Function functionDef `json:"function"`
}

type functionDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters"`
}

type namedToolChoice struct {
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

type chatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
	Usage   *usage   `json:"usage,omitempty"`
}

type choice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	Delta        chatMessage `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func toChatMessages(in []*schema.Message) ([]chatMessage, error) {
	out := make([]chatMessage, 0, len(in))
	for i, m := range in {
		if m == nil {
			return nil, fmt.Errorf("message %d is nil", i)
		}
		cm := chatMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, toolCall{
				ID:       tc.ID,
				Type:     toolType(tc.Type),
				Function: functionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
			})
		}
		out = append(out, cm)
	}
	return out, nil
}

func toolType(t string) string {
	if t == "" {
		return "function"
	}
	return t
}

func toTools(infos []*schema.ToolInfo) ([]tool, error) {
	if len(infos) == 0 {
		return nil, nil
	}
	out := make([]tool, 0, len(infos))
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
		out = append(out, tool{
			Type:     "function",
			Function: functionDef{Name: ti.Name, Description: ti.Desc, Parameters: params},
		})
	}
	return out, nil
}

// toToolChoice 强制调用且指定了函数名时生成 {"type":"function","function":{"name":...}}。
func toToolChoice(choice *schema.ToolChoice, forced *string, tools []tool) (any, error) {
	if choice == nil {
		return nil, nil
	}
	switch *choice {
	case schema.ToolChoiceForbidden:
		return "none", nil
	case schema.ToolChoiceAllowed:
		return "auto", nil
	case schema.ToolChoiceForced:
		if len(tools) == 0 {
			return nil, errors.New("tool choice is forced but no tools are bound")
		}
		if forced == nil || *forced == "" {
			return "required", nil
		}
		for _, t := range tools {
			if t.Function.Name == *forced {
				nc := namedToolChoice{Type: "function"}
				nc.Function.Name = *forced
				return nc, nil
			}
		}
		return nil, fmt.Errorf("forced tool %q is not bound", *forced)
	default:
		return nil, fmt.Errorf("unknown tool choice: %s", *choice)
	}
}

// toMessage 非流式响应中的工具调用不带 Index。
func toMessage(c choice, u *usage) *schema.Message {
	msg := &schema.Message{
		Role:    schema.Assistant,
		Content: c.Message.Content,
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: c.FinishReason,
			Usage:        toTokenUsage(u),
		},
	}
	for _, tc := range c.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
			ID:       tc.ID,
			Type:     toolType(tc.Type),
			Function: schema.FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
		})
	}
	return msg
}

// toChunk 流式增量转为消息分块，没有任何内容时返回 false。
func toChunk(resp *chatResponse) (*schema.Message, bool) {
	msg := &schema.Message{Role: schema.Assistant}
	found := false

	if len(resp.Choices) > 0 {
		c := resp.Choices[0]
		msg.Content = c.Delta.Content
		for _, tc := range c.Delta.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
				Index:    tc.Index,
				ID:       tc.ID,
				Type:     tc.Type,
				Function: schema.FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
			})
		}
		if c.FinishReason != "" {
			msg.ResponseMeta = &schema.ResponseMeta{FinishReason: c.FinishReason}
		}
		found = msg.Content != "" || len(msg.ToolCalls) > 0 || msg.ResponseMeta != nil
	}

	if resp.Usage != nil {
		if msg.ResponseMeta == nil {
			msg.ResponseMeta = &schema.ResponseMeta{}
		}
		msg.ResponseMeta.Usage = toTokenUsage(resp.Usage)
		found = true
	}
	return msg, found
}

func toTokenUsage(u *usage) *schema.TokenUsage {
	if u == nil {
		return nil
	}
	return &schema.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func toCallbackUsage(u *schema.TokenUsage) *model.TokenUsage {
	if u == nil {
		return nil
	}
	return &model.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
