package compose

import (
	"slices"

	"github.com/favbox/eino-chains/callbacks"
	"github.com/favbox/eino-chains/components/embedding"
	"github.com/favbox/eino-chains/components/model"
	"github.com/favbox/eino-chains/components/prompt"
	"github.com/favbox/eino-chains/components/retriever"
	"github.com/favbox/eino-chains/internal/generic"
)

// Option 流水线的调用选项。
//
// 组件选项只会交给选项类型匹配的阶段；用 DesignateStage 可以进一步限定到指定名称的阶段。
//
//	out, err := r.Invoke(ctx, in,
//		compose.WithChatModelOption(model.WithTemperature(0)),
//		compose.WithCallbacks(logHandler).DesignateStage("planner"),
//	)
type Option struct {
	options  []any
	handlers []callbacks.Handler

	stages []string

	batchConcurrency int
}

// DesignateStage 把选项限定到指定名称的阶段（或并行分支的键）。
// 指定的阶段为嵌套的链或并行映射时，选项作用于其内部全部阶段。
func (o Option) DesignateStage(names ...string) Option {
	o.stages = append(slices.Clone(o.stages), names...)
	return o
}

func (o Option) designated() bool {
	return len(o.stages) > 0
}

func (o Option) designates(name string) bool {
	return slices.Contains(o.stages, name)
}

func WithEmbeddingOption(opts ...embedding.Option) Option {
	return withComponentOption(opts...)
}

func WithRetrieverOption(opts ...retriever.Option) Option {
	return withComponentOption(opts...)
}

func WithChatModelOption(opts ...model.Option) Option {
	return withComponentOption(opts...)
}

func WithChatTemplateOption(opts ...prompt.Option) Option {
	return withComponentOption(opts...)
}

// WithLambdaOption Lambda 自定义选项，类型须与 *WithOption 构造时的 TOption 一致。
func WithLambdaOption(opts ...any) Option {
	return Option{options: opts}
}

// WithCallbacks 为本次调用追加回调处理器。
func WithCallbacks(cbs ...callbacks.Handler) Option {
	return Option{handlers: cbs}
}

// WithBatchConcurrency 限制 Batch 的并发数，n <= 0 表示不限制。
func WithBatchConcurrency(n int) Option {
	return Option{batchConcurrency: n}
}

func withComponentOption[TOption any](opts ...TOption) Option {
	o := make([]any, 0, len(opts))
	for i := range opts {
		o = append(o, opts[i])
	}
	return Option{options: o}
}

// convertOption 过滤出类型为 TOption 的选项，其余忽略。
func convertOption[TOption any](opts ...any) []TOption {
	if len(opts) == 0 {
		return nil
	}
	ret := make([]TOption, 0, len(opts))
	for _, o := range opts {
		if t, ok := o.(TOption); ok {
			ret = append(ret, t)
		}
	}
	return ret
}

var optionType = generic.TypeOf[Option]()

func batchConcurrency(opts []Option) int {
	n := 0
	for _, o := range opts {
		if o.batchConcurrency != 0 {
			n = o.batchConcurrency
		}
	}
	return n
}
