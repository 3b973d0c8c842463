package callbacks

import (
	"context"

	"github.com/favbox/eino-chains/callbacks"
	"github.com/favbox/eino-chains/components"
	"github.com/favbox/eino-chains/components/embedding"
	"github.com/favbox/eino-chains/components/indexer"
	"github.com/favbox/eino-chains/components/model"
	"github.com/favbox/eino-chains/components/prompt"
	"github.com/favbox/eino-chains/components/retriever"
	"github.com/favbox/eino-chains/compose"
	"github.com/favbox/eino-chains/schema"
)

// ComponentHandler 以组件自己的回调类型接收事件，未设置的时机被跳过。
type ComponentHandler[I, O any] struct {
	OnStart               func(ctx context.Context, info *callbacks.RunInfo, input I) context.Context
	OnEnd                 func(ctx context.Context, info *callbacks.RunInfo, output O) context.Context
	OnEndWithStreamOutput func(ctx context.Context, info *callbacks.RunInfo, output *schema.StreamReader[O]) context.Context
	OnError               func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context
}

type (
	PromptCallbackHandler    = ComponentHandler[*prompt.CallbackInput, *prompt.CallbackOutput]
	ModelCallbackHandler     = ComponentHandler[*model.CallbackInput, *model.CallbackOutput]
	EmbeddingCallbackHandler = ComponentHandler[*embedding.CallbackInput, *embedding.CallbackOutput]
	IndexerCallbackHandler   = ComponentHandler[*indexer.CallbackInput, *indexer.CallbackOutput]
	RetrieverCallbackHandler = ComponentHandler[*retriever.CallbackInput, *retriever.CallbackOutput]
)

// dispatcher 擦除了组件回调类型的处理器。
type dispatcher interface {
	callbacks.Handler
	callbacks.TimingChecker
}

type typedHandler[I, O any] struct {
	h       *ComponentHandler[I, O]
	convIn  func(callbacks.CallbackInput) I
	convOut func(callbacks.CallbackOutput) O
}

func (t *typedHandler[I, O]) OnStart(ctx context.Context, info *callbacks.RunInfo,
	input callbacks.CallbackInput) context.Context {
	return t.h.OnStart(ctx, info, t.convIn(input))
}

func (t *typedHandler[I, O]) OnEnd(ctx context.Context, info *callbacks.RunInfo,
	output callbacks.CallbackOutput) context.Context {
	return t.h.OnEnd(ctx, info, t.convOut(output))
}

func (t *typedHandler[I, O]) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	return t.h.OnError(ctx, info, err)
}

// OnStartWithStreamInput 组件不接收流式输入，不会被调用。
func (t *typedHandler[I, O]) OnStartWithStreamInput(ctx context.Context, _ *callbacks.RunInfo,
	input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	input.Close()
	return ctx
}

func (t *typedHandler[I, O]) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo,
	output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	return t.h.OnEndWithStreamOutput(ctx, info,
		schema.StreamReaderWithConvert(output, func(o callbacks.CallbackOutput) (O, error) {
			return t.convOut(o), nil
		}))
}

func (t *typedHandler[I, O]) Needed(_ context.Context, _ *callbacks.RunInfo, timing callbacks.CallbackTiming) bool {
	switch timing {
	case callbacks.TimingOnStart:
		return t.h.OnStart != nil
	case callbacks.TimingOnEnd:
		return t.h.OnEnd != nil
	case callbacks.TimingOnError:
		return t.h.OnError != nil
	case callbacks.TimingOnEndWithStreamOutput:
		return t.h.OnEndWithStreamOutput != nil
	default:
		return false
	}
}

func bind[I, O any](h *ComponentHandler[I, O], convIn func(callbacks.CallbackInput) I,
	convOut func(callbacks.CallbackOutput) O) dispatcher {
	return &typedHandler[I, O]{h: h, convIn: convIn, convOut: convOut}
}

// plainHandler 编排单元与解析器直接使用通用处理器。
type plainHandler struct {
	callbacks.Handler
}

func (p plainHandler) Needed(ctx context.Context, info *callbacks.RunInfo, timing callbacks.CallbackTiming) bool {
	if c, ok := p.Handler.(callbacks.TimingChecker); ok {
		return c.Needed(ctx, info, timing)
	}
	return true
}

// NewHandlerHelper 按组件类别分派回调。
//
//	handler := NewHandlerHelper().
//		ChatModel(&ModelCallbackHandler{
//			OnEnd: func(ctx context.Context, info *callbacks.RunInfo, out *model.CallbackOutput) context.Context {
//				log.Printf("tokens: %d", out.TokenUsage.TotalTokens)
//				return ctx
//			},
//		}).
//		Handler()
//	out, err := r.Invoke(ctx, in, compose.WithCallbacks(handler))
func NewHandlerHelper() *HandlerHelper {
	return &HandlerHelper{handlers: map[components.Component]dispatcher{}}
}

type HandlerHelper struct {
	handlers map[components.Component]dispatcher
}

func (c *HandlerHelper) Handler() callbacks.Handler {
	return &handlerTemplate{handlers: c.handlers}
}

func (c *HandlerHelper) Prompt(handler *PromptCallbackHandler) *HandlerHelper {
	c.handlers[components.ComponentOfPrompt] = bind(handler, prompt.ConvCallbackInput, prompt.ConvCallbackOutput)
	return c
}

func (c *HandlerHelper) ChatModel(handler *ModelCallbackHandler) *HandlerHelper {
	c.handlers[components.ComponentOfChatModel] = bind(handler, model.ConvCallbackInput, model.ConvCallbackOutput)
	return c
}

func (c *HandlerHelper) Embedding(handler *EmbeddingCallbackHandler) *HandlerHelper {
	c.handlers[components.ComponentOfEmbedding] = bind(handler, embedding.ConvCallbackInput,
		embedding.ConvCallbackOutput)
	return c
}

func (c *HandlerHelper) Indexer(handler *IndexerCallbackHandler) *HandlerHelper {
	c.handlers[components.ComponentOfIndexer] = bind(handler, indexer.ConvCallbackInput, indexer.ConvCallbackOutput)
	return c
}

func (c *HandlerHelper) Retriever(handler *RetrieverCallbackHandler) *HandlerHelper {
	c.handlers[components.ComponentOfRetriever] = bind(handler, retriever.ConvCallbackInput,
		retriever.ConvCallbackOutput)
	return c
}

// Parser 解析器的输入为 *schema.Message，输出为解析结果。
func (c *HandlerHelper) Parser(handler callbacks.Handler) *HandlerHelper {
	c.handlers[components.ComponentOfParser] = plainHandler{handler}
	return c
}

func (c *HandlerHelper) Chain(handler callbacks.Handler) *HandlerHelper {
	c.handlers[compose.ComponentOfChain] = plainHandler{handler}
	return c
}

func (c *HandlerHelper) Parallel(handler callbacks.Handler) *HandlerHelper {
	c.handlers[compose.ComponentOfParallel] = plainHandler{handler}
	return c
}

func (c *HandlerHelper) Lambda(handler callbacks.Handler) *HandlerHelper {
	c.handlers[compose.ComponentOfLambda] = plainHandler{handler}
	return c
}

type handlerTemplate struct {
	handlers map[components.Component]dispatcher
}

func (c *handlerTemplate) of(info *callbacks.RunInfo) dispatcher {
	if info == nil {
		return nil
	}
	return c.handlers[info.Component]
}

func (c *handlerTemplate) OnStart(ctx context.Context, info *callbacks.RunInfo,
	input callbacks.CallbackInput) context.Context {
	if h := c.of(info); h != nil {
		return h.OnStart(ctx, info, input)
	}
	return ctx
}

func (c *handlerTemplate) OnEnd(ctx context.Context, info *callbacks.RunInfo,
	output callbacks.CallbackOutput) context.Context {
	if h := c.of(info); h != nil {
		return h.OnEnd(ctx, info, output)
	}
	return ctx
}

func (c *handlerTemplate) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	if h := c.of(info); h != nil {
		return h.OnError(ctx, info, err)
	}
	return ctx
}

func (c *handlerTemplate) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo,
	input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	if h := c.of(info); h != nil {
		return h.OnStartWithStreamInput(ctx, info, input)
	}
	input.Close()
	return ctx
}

func (c *handlerTemplate) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo,
	output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	if h := c.of(info); h != nil {
		return h.OnEndWithStreamOutput(ctx, info, output)
	}
	output.Close()
	return ctx
}

// Needed 只有登记了对应组件且该时机有处理函数时才触发。
func (c *handlerTemplate) Needed(ctx context.Context, info *callbacks.RunInfo, timing callbacks.CallbackTiming) bool {
	h := c.of(info)
	return h != nil && h.Needed(ctx, info, timing)
}
