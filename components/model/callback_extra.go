package model

import (
	"github.com/favbox/eino-chains/callbacks"
	"github.com/favbox/eino-chains/schema"
)

// TokenUsage 一次调用的 token 用量。
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Config 本次调用实际生效的模型参数。
type Config struct {
	Model       string
	MaxTokens   int
	Temperature float32
	TopP        float32
	Stop        []string
}

type CallbackInput struct {
	Messages   []*schema.Message
	Tools      []*schema.ToolInfo
	ToolChoice *schema.ToolChoice
	Config     *Config
	Extra      map[string]any
}

type CallbackOutput struct {
	Message    *schema.Message
	Config     *Config
	TokenUsage *TokenUsage
	Extra      map[string]any
}

// ConvCallbackInput 把回调输入转为模型的 CallbackInput。
// 未自行触发回调的模型，compose 传入的是原始消息列表。
func ConvCallbackInput(src callbacks.CallbackInput) *CallbackInput {
	switch t := src.(type) {
	case *CallbackInput:
		return t
	case []*schema.Message:
		return &CallbackInput{Messages: t}
	default:
		return nil
	}
}

func ConvCallbackOutput(src callbacks.CallbackOutput) *CallbackOutput {
	switch t := src.(type) {
	case *CallbackOutput:
		return t
	case *schema.Message:
		out := &CallbackOutput{Message: t}
		if t != nil && t.ResponseMeta != nil && t.ResponseMeta.Usage != nil {
			u := t.ResponseMeta.Usage
			out.TokenUsage = &TokenUsage{
				PromptTokens:     u.PromptTokens,
				CompletionTokens: u.CompletionTokens,
				TotalTokens:      u.TotalTokens,
			}
		}
		return out
	default:
		return nil
	}
}
