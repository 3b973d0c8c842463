package langchain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/favbox/eino-chains/components/model"
	"github.com/favbox/eino-chains/schema"
)

type fakeLLM struct {
	resp    *llms.ContentResponse
	err     error
	chunks  []string
	gotMsgs []llms.MessageContent
	gotOpts llms.CallOptions
}

func (f *fakeLLM) GenerateContent(ctx context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (
	*llms.ContentResponse, error) {
	f.gotMsgs = msgs
	f.gotOpts = llms.CallOptions{}
	for _, o := range options {
		o(&f.gotOpts)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.gotOpts.StreamingFunc != nil {
		for _, c := range f.chunks {
			if err := f.gotOpts.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
	}
	return f.resp, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()
	llm := &fakeLLM{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        "Paris",
		StopReason:     "stop",
		GenerationInfo: map[string]any{"PromptTokens": 3, "CompletionTokens": 1},
	}}}}

	cm, err := NewChatModel(llm, "")
	require.NoError(t, err)
	assert.Equal(t, "LangChain", cm.GetType())

	msg, err := cm.Generate(ctx, []*schema.Message{
		schema.SystemMessage("geo expert"),
		schema.UserMessage("capital of France?"),
		schema.AssistantMessage("", []schema.ToolCall{{ID: "c1", Function: schema.FunctionCall{Name: "f", Arguments: "{}"}}}),
		schema.ToolMessage("ok", "c1", "f"),
	}, model.WithTemperature(0.5), model.WithModel("claude"))
	require.NoError(t, err)

	assert.Equal(t, "Paris", msg.Content)
	assert.Equal(t, "stop", msg.ResponseMeta.FinishReason)
	assert.Equal(t, 4, msg.ResponseMeta.Usage.TotalTokens)

	require.Len(t, llm.gotMsgs, 4)
	assert.Equal(t, llms.ChatMessageTypeSystem, llm.gotMsgs[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, llm.gotMsgs[1].Role)
	assert.IsType(t, llms.ToolCall{}, llm.gotMsgs[2].Parts[0])
	assert.Equal(t, llms.ToolCallResponse{ToolCallID: "c1", Name: "f", Content: "ok"}, llm.gotMsgs[3].Parts[0])
	assert.InDelta(t, 0.5, llm.gotOpts.Temperature, 1e-6)
	assert.Equal(t, "claude", llm.gotOpts.Model)
}

func TestGenerateError(t *testing.T) {
	cm, err := NewChatModel(&fakeLLM{err: errors.New("rate limited")}, "Anthropic")
	require.NoError(t, err)
	_, err = cm.Generate(context.Background(), []*schema.Message{schema.UserMessage("x")})
	assert.True(t, schema.IsTransportError(err))

	_, err = NewChatModel(nil, "")
	assert.Error(t, err)
}

func TestToolsAndStream(t *testing.T) {
	ctx := context.Background()
	llm := &fakeLLM{
		chunks: []string{"Let me ", "check."},
		resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
			Content:    "Let me check.",
			StopReason: "tool_calls",
			ToolCalls: []llms.ToolCall{{
				ID: "c1", Type: "function",
				FunctionCall: &llms.FunctionCall{Name: "search", Arguments: `{"q":"go"}`},
			}},
		}}},
	}
	base, err := NewChatModel(llm, "")
	require.NoError(t, err)

	cm, err := base.WithTools([]*schema.ToolInfo{{Name: "search", Desc: "web search"}})
	require.NoError(t, err)

	sr, err := cm.Stream(ctx, []*schema.Message{schema.UserMessage("search go")}, model.WithForcedTool("search"))
	require.NoError(t, err)
	chunks, err := schema.ReadAll(sr)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	require.Len(t, llm.gotOpts.Tools, 1)
	assert.Equal(t, "search", llm.gotOpts.Tools[0].Function.Name)
	assert.Equal(t, llms.ToolChoice{Type: "function", Function: &llms.FunctionReference{Name: "search"}},
		llm.gotOpts.ToolChoice)

	msg, err := schema.ConcatMessages(chunks)
	require.NoError(t, err)
	assert.Equal(t, "Let me check.", msg.Content)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, `{"q":"go"}`, msg.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "tool_calls", msg.ResponseMeta.FinishReason)
}
