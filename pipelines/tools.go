package pipelines

import (
	"context"
	"fmt"

	"github.com/favbox/eino-chains/components"
	"github.com/favbox/eino-chains/components/model"
	"github.com/favbox/eino-chains/schema"
)

// JokeTool 返回 setup 与 punchline 的笑话函数。
var JokeTool = &schema.ToolInfo{
	Name: "joke",
	Desc: "A joke",
	ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
		"setup": {
			Type:     schema.String,
			Desc:     "The setup for the joke",
			Required: true,
		},
		"punchline": {
			Type:     schema.String,
			Desc:     "The punchline for the joke",
			Required: true,
		},
	}),
}

// BindTools 绑定工具并附加默认的调用选项，调用时传入的选项优先。
func BindTools(m model.ToolCallingChatModel, tools []*schema.ToolInfo, defaults ...model.Option) (model.BaseChatModel, error) {
	withTools, err := m.WithTools(tools)
	if err != nil {
		return nil, fmt.Errorf("bind tools: %w", err)
	}
	return &boundModel{m: withTools, defaults: defaults}, nil
}

type boundModel struct {
	m        model.BaseChatModel
	defaults []model.Option
}

func (b *boundModel) opts(opts []model.Option) []model.Option {
	all := make([]model.Option, 0, len(b.defaults)+len(opts))
	all = append(all, b.defaults...)
	return append(all, opts...)
}

func (b *boundModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return b.m.Generate(ctx, input, b.opts(opts)...)
}

func (b *boundModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (
	*schema.StreamReader[*schema.Message], error) {
	return b.m.Stream(ctx, input, b.opts(opts)...)
}

func (b *boundModel) GetType() string {
	if typ, ok := components.GetType(b.m); ok {
		return typ
	}
	return "BoundModel"
}

func (b *boundModel) IsCallbacksEnabled() bool {
	return components.IsCallbacksEnabled(b.m)
}
