package pipelines

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/favbox/eino-chains/components/model"
	mockRetriever "github.com/favbox/eino-chains/internal/mock/components/retriever"
	"github.com/favbox/eino-chains/schema"
	"github.com/favbox/eino-chains/vectorstore/memory"
	"github.com/favbox/eino-chains/vectorstore/vectorstoretest"
)

func TestJokeChain(t *testing.T) {
	ctx := context.Background()
	m := echoModel("joke: ")

	r, err := NewJokeChain(ctx, m)
	require.NoError(t, err)

	out, err := r.Invoke(ctx, map[string]any{"topic": "ice cream"})
	require.NoError(t, err)
	assert.Equal(t, "joke: tell me a short joke about ice cream", out)

	_, err = r.Invoke(ctx, map[string]any{})
	assert.True(t, schema.IsFormatError(err))
	assert.Equal(t, 1, m.callCount())
}

func TestTopicChain(t *testing.T) {
	ctx := context.Background()
	r, err := NewTopicChain(ctx, echoModel(""))
	require.NoError(t, err)

	out, err := r.Invoke(ctx, "ice cream")
	require.NoError(t, err)
	assert.Equal(t, "tell me a short joke about ice cream", out)

	outs, err := r.Batch(ctx, []string{"bears", "cats"})
	require.NoError(t, err)
	assert.Equal(t, []string{"tell me a short joke about bears", "tell me a short joke about cats"}, outs)
}

func TestRAGChain(t *testing.T) {
	ctx := context.Background()

	store, err := memory.New(&memory.Config{Embedding: &vectorstoretest.Embedder{}})
	require.NoError(t, err)
	ids, err := IndexTexts(ctx, store, []string{"Tom likes clouds", "bears like honey"})
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	m := echoModel("")
	r, err := NewRAGChain(ctx, store, m)
	require.NoError(t, err)

	out, err := r.Invoke(ctx, "what does Tom like?")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Answer the question:\n"))
	assert.Contains(t, out, "Tom likes clouds")
	assert.True(t, strings.HasSuffix(out, "\n\nQuestion: what does Tom like?\n"))
}

func TestChatChainStream(t *testing.T) {
	ctx := context.Background()
	m := newScriptedModel(func(msgs []*schema.Message, _ *model.Options) *schema.Message {
		return schema.AssistantMessage("Regularization reduces overfitting.", nil)
	})
	r, err := NewChatChain(ctx, m)
	require.NoError(t, err)

	// Stream 只流式执行最后一个阶段，模型阶段整体调用
	sr, err := r.Stream(ctx, map[string]any{})
	require.NoError(t, err)
	chunks, err := schema.ReadAll(sr)
	require.NoError(t, err)
	assert.Equal(t, []string{"Regularization reduces overfitting."}, chunks)

	// Transform 逐阶段流式，模型的增量输出逐块到达
	sr, err = r.Transform(ctx, schema.StreamReaderFromArray([]map[string]any{{}}))
	require.NoError(t, err)
	chunks, err = schema.ReadAll(sr)
	require.NoError(t, err)
	assert.Equal(t, []string{"Regularization ", "reduces ", "overfitting."}, chunks)

	require.Equal(t, 2, m.callCount())
	msgs := m.calls[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Equal(t, "You're a helpful assistant", msgs[0].Content)
	assert.Equal(t, "What is the purpose of model regularization?", msgs[1].Content)
}

func TestTranslateChain(t *testing.T) {
	ctx := context.Background()
	m := newScriptedModel(func(msgs []*schema.Message, _ *model.Options) *schema.Message {
		return schema.AssistantMessage("Bonjour, comment allez-vous ?", nil)
	})
	r, err := NewTranslateChain(ctx, m)
	require.NoError(t, err)

	out, err := r.Invoke(ctx, map[string]any{
		"input_language":  "English",
		"output_language": "French",
		"text":            "Hello, how are you?",
	})
	require.NoError(t, err)
	assert.Equal(t, schema.Assistant, out.Role)
	assert.Equal(t, "Bonjour, comment allez-vous ?", out.Content)

	msgs := m.calls[0]
	assert.Equal(t, "You are a helpful assistant that translates English to French.", msgs[0].Content)
	assert.Equal(t, schema.User, msgs[1].Role)
	assert.Equal(t, "Hello, how are you?", msgs[1].Content)
}

func TestFunctionJokeChain(t *testing.T) {
	ctx := context.Background()
	m := newScriptedModel(func(msgs []*schema.Message, o *model.Options) *schema.Message {
		if len(o.Tools) != 1 || o.ForcedTool == nil || *o.ForcedTool != "joke" {
			return schema.AssistantMessage("no tool bound", nil)
		}
		return schema.AssistantMessage("", []schema.ToolCall{{
			ID:   "call_1",
			Type: "function",
			Function: schema.FunctionCall{
				Name:      "joke",
				Arguments: `{"setup":"Why do bears hibernate?","punchline":"Because they can."}`,
			},
		}})
	})

	r, err := NewFunctionJokeChain(ctx, m)
	require.NoError(t, err)

	out, err := r.Invoke(ctx, "bears")
	require.NoError(t, err)
	assert.Equal(t, "Why do bears hibernate?", out)

	require.Equal(t, 1, m.callCount())
	assert.Equal(t, "tell a joke about bears", m.calls[0][0].Content)
	require.NotNil(t, m.opts[0].ToolChoice)
	assert.Equal(t, schema.ToolChoiceForced, *m.opts[0].ToolChoice)
	assert.Equal(t, JokeTool, m.opts[0].Tools[0])
}

func TestFunctionJokeChainNoToolCall(t *testing.T) {
	ctx := context.Background()
	m := newScriptedModel(func(msgs []*schema.Message, _ *model.Options) *schema.Message {
		return schema.AssistantMessage("plain text", nil)
	})
	r, err := NewFunctionJokeChain(ctx, m)
	require.NoError(t, err)

	_, err = r.Invoke(ctx, "bears")
	assert.True(t, schema.IsParseError(err))
}

func TestArgumentChain(t *testing.T) {
	ctx := context.Background()
	m := newScriptedModel(func(msgs []*schema.Message, _ *model.Options) *schema.Message {
		first := msgs[0].Content
		switch {
		case strings.HasPrefix(first, "Generate a brief argument"):
			return schema.AssistantMessage("scrum is good", nil)
		case strings.HasPrefix(first, "List 3 pros"):
			return schema.AssistantMessage("fast feedback", nil)
		case strings.HasPrefix(first, "List 3 cons"):
			return schema.AssistantMessage("meeting overhead", nil)
		default:
			return schema.AssistantMessage("final: "+first, nil)
		}
	})

	r, err := NewArgumentChain(ctx, m)
	require.NoError(t, err)

	out, err := r.Invoke(ctx, map[string]any{"input": "scrum"})
	require.NoError(t, err)
	assert.Equal(t, "final: Review your original response (below), and update it based upon the pros and cons.scrum is good", out)
	assert.Equal(t, 4, m.callCount())

	final := m.calls[3]
	require.Len(t, final, 3)
	assert.Equal(t, schema.Assistant, final[0].Role)
	assert.Equal(t, schema.User, final[1].Role)
	assert.Equal(t, "Pros:\nfast feedback\n\nCons:\nmeeting overhead", final[1].Content)
	assert.Equal(t, schema.System, final[2].Role)
	assert.Equal(t, "Generate a final response given the critique", final[2].Content)
}

func TestActorChain(t *testing.T) {
	ctx := context.Background()

	t.Run("解析为 Actor", func(t *testing.T) {
		m := newScriptedModel(func(msgs []*schema.Message, _ *model.Options) *schema.Message {
			return schema.AssistantMessage("```json\n{\"name\":\"Michael Keaton\",\"film_names\":[\"Birdman\",\"Batman\"]}\n```", nil)
		})
		r, err := NewActorChain(ctx, m)
		require.NoError(t, err)

		out, err := r.Invoke(ctx, "Generate the filmography for a random actor from Birdman.")
		require.NoError(t, err)
		assert.Equal(t, Actor{Name: "Michael Keaton", FilmNames: []string{"Birdman", "Batman"}}, out)

		p := m.calls[0][0].Content
		assert.True(t, strings.HasPrefix(p, "Answer the user query.\n"))
		assert.Contains(t, p, "film_names")
		assert.True(t, strings.HasSuffix(p, "Generate the filmography for a random actor from Birdman.\n"))
	})

	t.Run("校验失败", func(t *testing.T) {
		m := newScriptedModel(func(msgs []*schema.Message, _ *model.Options) *schema.Message {
			return schema.AssistantMessage(`{"name":"Nobody","film_names":[]}`, nil)
		})
		r, err := NewActorChain(ctx, m)
		require.NoError(t, err)

		_, err = r.Invoke(ctx, "anyone")
		assert.True(t, schema.IsParseError(err))
	})
}

func TestCodeExampleChain(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)

	r := mockRetriever.NewMockRetriever(ctrl)
	r.EXPECT().Retrieve(gomock.Any(), "sort a slice", gomock.Any()).
		Return([]*schema.Document{{ID: "1", Content: "sort.Slice(xs, less)"}}, nil)

	m := newScriptedModel(func(msgs []*schema.Message, _ *model.Options) *schema.Message {
		return schema.AssistantMessage("use sort.Slice", nil)
	})
	chain, err := NewCodeExampleChain(ctx, r, m)
	require.NoError(t, err)

	sr, err := chain.Transform(ctx, schema.StreamReaderFromArray([]string{"sort a slice"}))
	require.NoError(t, err)
	chunks, err := schema.ReadAll(sr)
	require.NoError(t, err)
	assert.Equal(t, "use sort.Slice", strings.Join(chunks, ""))

	msgs := m.calls[0]
	assert.Equal(t, "Based on this context:\nsort.Slice(xs, less)", msgs[0].Content)
	assert.Equal(t, "Fulfill this request:\nsort a slice", msgs[1].Content)
}
