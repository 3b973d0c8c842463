package parser

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favbox/eino-chains/schema"
)

type actor struct {
	Name      string   `json:"name" jsonschema:"description=name of an actor" validate:"required"`
	FilmNames []string `json:"film_names" jsonschema:"description=list of names of films they starred in" validate:"required,min=1"`
}

func TestStrParser(t *testing.T) {
	ctx := context.Background()
	out, err := StrParser{}.Parse(ctx, schema.AssistantMessage("Why did the bear...", nil))
	require.NoError(t, err)
	assert.Equal(t, "Why did the bear...", out)

	_, err = StrParser{}.Parse(ctx, nil)
	assert.True(t, schema.IsParseError(err))

	sr, err := StrParser{}.Transform(ctx, schema.StreamReaderFromArray([]*schema.Message{
		schema.AssistantMessage("Why ", nil),
		schema.AssistantMessage("", nil),
		schema.AssistantMessage("bears?", nil),
	}))
	require.NoError(t, err)
	var chunks []string
	for {
		c, err := sr.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, c)
	}
	assert.Equal(t, []string{"Why ", "bears?"}, chunks)
}

func TestJSONParser(t *testing.T) {
	ctx := context.Background()

	t.Run("内容与代码块", func(t *testing.T) {
		p := NewJSONParser[map[string]any](nil)
		out, err := p.Parse(ctx, schema.AssistantMessage("```json\n{\"a\": 1}\n```", nil))
		require.NoError(t, err)
		assert.EqualValues(t, 1, out["a"])
	})

	t.Run("字段路径", func(t *testing.T) {
		p := NewJSONParser[string](&JSONParserConfig{KeyPath: "joke.setup"})
		out, err := p.Parse(ctx, schema.AssistantMessage(`{"joke":{"setup":"s","punchline":"p"}}`, nil))
		require.NoError(t, err)
		assert.Equal(t, "s", out)
	})

	t.Run("工具调用参数", func(t *testing.T) {
		p := NewJSONKeyToolParser[string]("setup")
		msg := schema.AssistantMessage("", []schema.ToolCall{{
			ID:       "call_1",
			Function: schema.FunctionCall{Name: "joke", Arguments: `{"setup":"Why don't bears wear shoes?","punchline":"They have bear feet."}`},
		}})
		out, err := p.Parse(ctx, msg)
		require.NoError(t, err)
		assert.Equal(t, "Why don't bears wear shoes?", out)

		_, err = p.Parse(ctx, schema.AssistantMessage("no tools", nil))
		assert.True(t, schema.IsParseError(err))
	})

	t.Run("非法 JSON", func(t *testing.T) {
		p := NewJSONParser[map[string]any](nil)
		_, err := p.Parse(ctx, schema.AssistantMessage("not json", nil))
		var pe *schema.ParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "not json", pe.Raw)
	})
}

func TestStructParser(t *testing.T) {
	ctx := context.Background()
	p, err := NewStructParser[actor]()
	require.NoError(t, err)

	inst := p.FormatInstructions()
	assert.True(t, strings.Contains(inst, "film_names"))
	assert.True(t, strings.Contains(inst, "name of an actor"))

	out, err := p.Parse(ctx, schema.AssistantMessage(`{"name":"Tom Hanks","film_names":["Forrest Gump"]}`, nil))
	require.NoError(t, err)
	assert.Equal(t, actor{Name: "Tom Hanks", FilmNames: []string{"Forrest Gump"}}, out)

	_, err = p.Parse(ctx, schema.AssistantMessage(`{"name":"Tom Hanks","film_names":[]}`, nil))
	assert.True(t, schema.IsParseError(err))
}

func TestStripFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFence("```\n{\"a\":1}```"))
	assert.Equal(t, "plain", stripFence("plain"))
}
