package pipelines

import (
	"context"
	"strings"
	"sync"

	"github.com/favbox/eino-chains/components/model"
	"github.com/favbox/eino-chains/schema"
)

// scriptedModel 按 reply 生成回复并记录每次调用的消息与选项。
type scriptedModel struct {
	mu    sync.Mutex
	reply func(msgs []*schema.Message, o *model.Options) *schema.Message
	tools []*schema.ToolInfo
	// parent 由 WithTools 派生时指向原实例，调用记录在原实例上
	parent *scriptedModel
	calls  [][]*schema.Message
	opts   []*model.Options
}

func newScriptedModel(reply func(msgs []*schema.Message, o *model.Options) *schema.Message) *scriptedModel {
	return &scriptedModel{reply: reply}
}

// echoModel 回复 prefix 加最后一条消息的内容。
func echoModel(prefix string) *scriptedModel {
	return newScriptedModel(func(msgs []*schema.Message, _ *model.Options) *schema.Message {
		return schema.AssistantMessage(prefix+msgs[len(msgs)-1].Content, nil)
	})
}

func (m *scriptedModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	o := model.GetCommonOptions(&model.Options{Tools: m.tools}, opts...)
	rec := m
	if m.parent != nil {
		rec = m.parent
	}
	rec.mu.Lock()
	rec.calls = append(rec.calls, input)
	rec.opts = append(rec.opts, o)
	rec.mu.Unlock()
	return m.reply(input, o), nil
}

// Stream 按空格切分回复内容。
func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (
	*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	words := strings.SplitAfter(msg.Content, " ")
	chunks := make([]*schema.Message, 0, len(words))
	for _, w := range words {
		chunks = append(chunks, schema.AssistantMessage(w, nil))
	}
	if len(msg.ToolCalls) > 0 {
		chunks = append(chunks, schema.AssistantMessage("", msg.ToolCalls))
	}
	return schema.StreamReaderFromArray(chunks), nil
}

func (m *scriptedModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return &scriptedModel{reply: m.reply, tools: tools, parent: m}, nil
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
