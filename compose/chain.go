/*
 * chain.go - 顺序编排
 *
 * Chain[I, O] 以构建器方式追加阶段，Compile 时检查相邻阶段的类型并生成 Runnable[I, O]：
 *   - Invoke：阶段依次执行，每个阶段只接收上一阶段的输出
 *   - Stream：前 n-1 个阶段以 Invoke 执行，最后一个阶段以 Stream 执行
 *   - Collect：第一个阶段以 Collect 执行，其余以 Invoke 执行
 *   - Transform：逐阶段 Transform，模型的增量输出可以直接流入流式解析器
 *
 * 任一阶段失败立即返回，后续阶段不再执行，不返回部分结果。
 * Chain 本身实现了 Stage，可嵌套到其他链或作为并行分支。
 */

package compose

import (
	"context"
	"fmt"
	"reflect"

	"github.com/favbox/eino-chains/components/embedding"
	"github.com/favbox/eino-chains/components/indexer"
	"github.com/favbox/eino-chains/components/model"
	"github.com/favbox/eino-chains/components/prompt"
	"github.com/favbox/eino-chains/components/retriever"
	"github.com/favbox/eino-chains/internal/generic"
)

type chainOptions struct {
	name string
}

// ChainOpt 创建链时的选项。
type ChainOpt func(o *chainOptions)

// WithChainName 链的名称，出现在回调 RunInfo.Name 与批量执行的错误中。
func WithChainName(name string) ChainOpt {
	return func(o *chainOptions) {
		o.name = name
	}
}

// NewChain 创建输入为 I、输出为 O 的链。
func NewChain[I, O any](opts ...ChainOpt) *Chain[I, O] {
	o := &chainOptions{name: string(ComponentOfChain)}
	for _, opt := range opts {
		opt(o)
	}
	return &Chain[I, O]{name: o.name}
}

// Chain 顺序编排的构建器，使用前需要 Compile。
//
//	tpl := prompt.FromTemplate("tell me a joke about {topic}")
//	r, err := compose.NewChain[map[string]any, string]().
//		AppendChatTemplate(tpl).
//		AppendChatModel(cm).
//		AppendStage(compose.Parser[string](parser.StrParser{})).
//		Compile(ctx)
//	if err != nil {
//		return err
//	}
//	joke, err := r.Invoke(ctx, map[string]any{"topic": "bears"})
//
// 追加过程中的第一个错误会被记录，由 Compile 返回。
type Chain[I, O any] struct {
	name    string
	pending []pendingStage

	err      error
	compiled bool
}

type pendingStage struct {
	s    Stage
	opts []StageOpt
}

// Compile 检查类型并生成 Runnable。编译后的链不可再追加阶段。
func (c *Chain[I, O]) Compile(ctx context.Context) (Runnable[I, O], error) {
	cr, err := c.toComposable()
	if err != nil {
		return nil, err
	}
	return &runnable[I, O]{name: c.name, cr: cr}, nil
}

// AppendStage 追加任意阶段。
func (c *Chain[I, O]) AppendStage(s Stage, opts ...StageOpt) *Chain[I, O] {
	if c.err != nil {
		return c
	}
	if c.compiled {
		c.err = ErrChainCompiled
		return c
	}
	c.pending = append(c.pending, pendingStage{s: s, opts: opts})
	return c
}

func (c *Chain[I, O]) AppendLambda(l *Lambda, opts ...StageOpt) *Chain[I, O] {
	return c.AppendStage(l, opts...)
}

// AppendChatTemplate map[string]any => []*schema.Message。
func (c *Chain[I, O]) AppendChatTemplate(t prompt.ChatTemplate, opts ...StageOpt) *Chain[I, O] {
	return c.AppendStage(ChatTemplate(t), opts...)
}

// AppendChatModel []*schema.Message => *schema.Message。
func (c *Chain[I, O]) AppendChatModel(m model.BaseChatModel, opts ...StageOpt) *Chain[I, O] {
	return c.AppendStage(ChatModel(m), opts...)
}

func (c *Chain[I, O]) AppendRetriever(r retriever.Retriever, opts ...StageOpt) *Chain[I, O] {
	return c.AppendStage(Retriever(r), opts...)
}

func (c *Chain[I, O]) AppendEmbedding(e embedding.Embedder, opts ...StageOpt) *Chain[I, O] {
	return c.AppendStage(Embedding(e), opts...)
}

func (c *Chain[I, O]) AppendIndexer(i indexer.Indexer, opts ...StageOpt) *Chain[I, O] {
	return c.AppendStage(Indexer(i), opts...)
}

// AppendParallel 追加并行映射，输出为 map[string]any。
func (c *Chain[I, O]) AppendParallel(p *Parallel, opts ...StageOpt) *Chain[I, O] {
	return c.AppendStage(p, opts...)
}

func (c *Chain[I, O]) AppendPassthrough(opts ...StageOpt) *Chain[I, O] {
	return c.AppendStage(Passthrough(), opts...)
}

// AppendProjection 取出输入映射中 key 对应的值。
func (c *Chain[I, O]) AppendProjection(key string, opts ...StageOpt) *Chain[I, O] {
	return c.AppendStage(Projection(key), opts...)
}

// AppendToMap 把输入包装为 {key: input}。
func (c *Chain[I, O]) AppendToMap(key string, opts ...StageOpt) *Chain[I, O] {
	return c.AppendStage(ToMap(key), opts...)
}

// AppendPick 取出输入映射的子集。
func (c *Chain[I, O]) AppendPick(keys ...string) *Chain[I, O] {
	return c.AppendStage(Pick(keys...))
}

// AppendAssign 在输入映射上追加并行映射的输出。
func (c *Chain[I, O]) AppendAssign(p *Parallel, opts ...StageOpt) *Chain[I, O] {
	return c.AppendStage(Assign(p), opts...)
}

func (c *Chain[I, O]) toComposable() (*composableRunnable, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.compiled = true

	if len(c.pending) == 0 {
		return nil, ErrEmptyChain
	}

	stages := make([]*stage, 0, len(c.pending))
	for i, p := range c.pending {
		st, err := newStage(p.s, "", p.opts...)
		if err != nil {
			return nil, fmt.Errorf("chain %s stage %d invalid: %w", c.name, i, err)
		}
		if st.name == "" {
			st.name = defaultStageName(st.cr, i)
		}
		stages = append(stages, st)
	}

	if err := checkChainTypes(generic.TypeOf[I](), generic.TypeOf[O](), stages); err != nil {
		return nil, err
	}

	seq := &sequence{stages: stages}
	cr := &composableRunnable{
		i:          seq.invoke,
		s:          seq.stream,
		c:          seq.collect,
		t:          seq.transform,
		inputType:  generic.TypeOf[I](),
		outputType: generic.TypeOf[O](),
		optionType: optionType,
		meta: &executorMeta{
			component:         ComponentOfChain,
			componentImplType: c.name,
		},
	}
	return withCompositeCallbacks(cr), nil
}

// checkChainTypes 检查链的输入、相邻阶段与链的输出之间的类型。
// 上游输出为接口类型时只能在运行时判断，这里放行。
func checkChainTypes(in, out reflect.Type, stages []*stage) error {
	if checkAssignable(in, stages[0].cr.inputType) == assignableTypeMustNot {
		return newTypeMismatchErr("chain input", stages[0].name, in, stages[0].cr.inputType)
	}
	for i := 1; i < len(stages); i++ {
		prev, next := stages[i-1], stages[i]
		if checkAssignable(prev.cr.outputType, next.cr.inputType) == assignableTypeMustNot {
			return newTypeMismatchErr(prev.name, next.name, prev.cr.outputType, next.cr.inputType)
		}
	}
	last := stages[len(stages)-1]
	if checkAssignable(last.cr.outputType, out) == assignableTypeMustNot {
		return newTypeMismatchErr(last.name, "chain output", last.cr.outputType, out)
	}
	return nil
}

// sequence 链的执行体，阶段之间以擦除类型的值或流传递。
type sequence struct {
	stages []*stage
}

func (sq *sequence) invoke(ctx context.Context, input any, opts ...any) (any, error) {
	return sq.invokeFrom(ctx, 0, input, opts)
}

func (sq *sequence) invokeFrom(ctx context.Context, from int, input any, opts []any) (any, error) {
	out := input
	for _, s := range sq.stages[from:] {
		var err error
		out, err = s.invoke(ctx, out, opts...)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (sq *sequence) stream(ctx context.Context, input any, opts ...any) (streamReader, error) {
	n := len(sq.stages)
	out := input
	for _, s := range sq.stages[:n-1] {
		var err error
		out, err = s.invoke(ctx, out, opts...)
		if err != nil {
			return nil, err
		}
	}
	return sq.stages[n-1].stream(ctx, out, opts...)
}

func (sq *sequence) collect(ctx context.Context, input streamReader, opts ...any) (any, error) {
	out, err := sq.stages[0].collect(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return sq.invokeFrom(ctx, 1, out, opts)
}

func (sq *sequence) transform(ctx context.Context, input streamReader, opts ...any) (streamReader, error) {
	sr := input
	for _, s := range sq.stages {
		var err error
		sr, err = s.transform(ctx, sr, opts...)
		if err != nil {
			return nil, err
		}
	}
	return sr, nil
}

// Sequence 按顺序组合阶段并编译，等价于依次 AppendStage 后 Compile。
//
//	r, err := compose.Sequence[map[string]any, string](
//		compose.ChatTemplate(tpl),
//		compose.ChatModel(cm),
//		compose.Parser[string](parser.StrParser{}),
//	)
func Sequence[I, O any](stages ...Stage) (Runnable[I, O], error) {
	c := NewChain[I, O](WithChainName("Sequence"))
	for _, s := range stages {
		c.AppendStage(s)
	}
	return c.Compile(context.Background())
}
