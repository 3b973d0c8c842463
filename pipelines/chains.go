package pipelines

import (
	"context"
	"fmt"

	"github.com/favbox/eino-chains/components/indexer"
	"github.com/favbox/eino-chains/components/model"
	"github.com/favbox/eino-chains/components/parser"
	"github.com/favbox/eino-chains/components/prompt"
	"github.com/favbox/eino-chains/components/retriever"
	"github.com/favbox/eino-chains/compose"
	"github.com/favbox/eino-chains/schema"
)

func strParser() compose.Stage {
	return compose.Parser[string](parser.StrParser{})
}

// NewJokeChain 对象输入：{"topic": ...} → 提示 → 模型 → 字符串。
func NewJokeChain(ctx context.Context, m model.BaseChatModel) (compose.Runnable[map[string]any, string], error) {
	return compose.NewChain[map[string]any, string](compose.WithChainName("joke")).
		AppendChatTemplate(prompt.FromTemplate(jokeTemplate)).
		AppendChatModel(m).
		AppendStage(strParser()).
		Compile(ctx)
}

// NewTopicChain 字符串输入，先包装为 {"topic": input}。
func NewTopicChain(ctx context.Context, m model.BaseChatModel) (compose.Runnable[string, string], error) {
	return compose.NewChain[string, string](compose.WithChainName("topic")).
		AppendToMap("topic").
		AppendChatTemplate(prompt.FromTemplate(jokeTemplate)).
		AppendChatModel(m).
		AppendStage(strParser()).
		Compile(ctx)
}

// NewRAGChain 以问题检索文档，文档内容与原问题一起填入提示。
func NewRAGChain(ctx context.Context, r retriever.Retriever, m model.BaseChatModel) (compose.Runnable[string, string], error) {
	return compose.NewChain[string, string](compose.WithChainName("rag")).
		AppendParallel(contextAnd("question", r), compose.WithStageName("setup_and_retrieval")).
		AppendChatTemplate(prompt.FromTemplate(ragTemplate)).
		AppendChatModel(m).
		AppendStage(strParser()).
		Compile(ctx)
}

// contextAnd 并行取回 context，同时把原输入以 key 透传。
func contextAnd(key string, r retriever.Retriever) *compose.Parallel {
	retrieve := compose.NewChain[string, string](compose.WithChainName("retrieve_context")).
		AppendRetriever(r).
		AppendLambda(FormatDocuments(documentSeparator), compose.WithStageName("format_documents"))
	return compose.NewParallel().
		AddStage("context", retrieve).
		AddPassthrough(key)
}

// FormatDocuments 把检索结果拼接为提示中使用的文本。
func FormatDocuments(sep string) *compose.Lambda {
	return compose.InvokableLambda(func(_ context.Context, docs []*schema.Document) (string, error) {
		return schema.JoinDocuments(docs, sep), nil
	}, compose.WithLambdaType("FormatDocuments"))
}

// IndexTexts 把文本写入索引，返回文档 ID。
func IndexTexts(ctx context.Context, idx indexer.Indexer, texts []string, opts ...indexer.Option) ([]string, error) {
	docs := make([]*schema.Document, 0, len(texts))
	for _, t := range texts {
		docs = append(docs, &schema.Document{Content: t})
	}
	ids, err := idx.Store(ctx, docs, opts...)
	if err != nil {
		return nil, fmt.Errorf("index %d texts: %w", len(texts), err)
	}
	return ids, nil
}

// NewChatChain 固定的系统与用户消息，不需要输入变量，适合流式输出。
func NewChatChain(ctx context.Context, m model.BaseChatModel) (compose.Runnable[map[string]any, string], error) {
	tpl := prompt.FromMessages(schema.FString,
		schema.SystemMessage(chatSystem),
		schema.UserMessage(chatQuestion),
	)
	return compose.NewChain[map[string]any, string](compose.WithChainName("chat")).
		AppendChatTemplate(tpl).
		AppendChatModel(m).
		AppendStage(strParser()).
		Compile(ctx)
}

// NewTranslateChain 输出模型的原始消息，不做解析。
func NewTranslateChain(ctx context.Context, m model.BaseChatModel) (compose.Runnable[map[string]any, *schema.Message], error) {
	tpl := prompt.FromMessages(schema.FString,
		schema.SystemMessage(translateSystem),
		schema.UserMessage(translateHuman),
	)
	return compose.NewChain[map[string]any, *schema.Message](compose.WithChainName("translate")).
		AppendChatTemplate(tpl).
		AppendChatModel(m).
		Compile(ctx)
}

// NewFunctionJokeChain 强制模型调用 joke 函数，只返回参数中的 setup。
func NewFunctionJokeChain(ctx context.Context, m model.ToolCallingChatModel) (compose.Runnable[string, string], error) {
	bound, err := BindTools(m, []*schema.ToolInfo{JokeTool}, model.WithForcedTool(JokeTool.Name))
	if err != nil {
		return nil, err
	}
	return compose.NewChain[string, string](compose.WithChainName("function-joke")).
		AppendToMap("foo").
		AppendChatTemplate(prompt.FromTemplate(functionJokeTemplate)).
		AppendChatModel(bound).
		AppendStage(compose.Parser[string](parser.NewJSONKeyToolParser[string]("setup"))).
		Compile(ctx)
}

// NewArgumentChain 先生成论点，再并行列出优缺点，最后综合修订。
func NewArgumentChain(ctx context.Context, m model.BaseChatModel) (compose.Runnable[map[string]any, string], error) {
	planner := compose.NewChain[map[string]any, map[string]any](compose.WithChainName("planner")).
		AppendChatTemplate(prompt.FromTemplate(plannerTemplate)).
		AppendChatModel(m).
		AppendStage(strParser()).
		AppendToMap("base_response")

	pros := compose.NewChain[map[string]any, string](compose.WithChainName("arguments_for")).
		AppendChatTemplate(prompt.FromTemplate(prosTemplate)).
		AppendChatModel(m).
		AppendStage(strParser())

	cons := compose.NewChain[map[string]any, string](compose.WithChainName("arguments_against")).
		AppendChatTemplate(prompt.FromTemplate(consTemplate)).
		AppendChatModel(m).
		AppendStage(strParser())

	review := prompt.FromMessages(schema.FString,
		schema.AssistantMessage(reviewAI, nil),
		schema.UserMessage(reviewHuman),
		schema.SystemMessage(reviewSystem),
	)

	return compose.NewChain[map[string]any, string](compose.WithChainName("argument")).
		AppendStage(planner, compose.WithStageName("planner")).
		AppendParallel(compose.NewParallel().
			AddStage("results_1", pros).
			AddStage("results_2", cons).
			AddProjection("original_response", "base_response"),
			compose.WithStageName("critique")).
		AppendChatTemplate(review, compose.WithStageName("final_responder")).
		AppendChatModel(m).
		AppendStage(strParser()).
		Compile(ctx)
}

// Actor 结构化输出的目标类型。
type Actor struct {
	Name      string   `json:"name" jsonschema:"description=name of an actor" validate:"required"`
	FilmNames []string `json:"film_names" jsonschema:"description=list of names of films they starred in" validate:"required,min=1"`
}

// NewActorChain 提示中带有由 Actor 生成的格式说明，输出解析并校验为 Actor。
func NewActorChain(ctx context.Context, m model.BaseChatModel) (compose.Runnable[string, Actor], error) {
	sp, err := parser.NewStructParser[Actor]()
	if err != nil {
		return nil, err
	}
	tpl := prompt.FromTemplate(actorTemplate).
		WithPartialVariables(map[string]any{"format_instructions": sp.FormatInstructions()})

	return compose.NewChain[string, Actor](compose.WithChainName("actor")).
		AppendToMap("query").
		AppendChatTemplate(tpl).
		AppendChatModel(m).
		AppendStage(compose.Parser[Actor](sp)).
		Compile(ctx)
}

// NewCodeExampleChain 从代码示例库检索上下文，以系统消息提供给模型。
func NewCodeExampleChain(ctx context.Context, r retriever.Retriever, m model.BaseChatModel) (compose.Runnable[string, string], error) {
	tpl := prompt.FromMessages(schema.FString,
		schema.SystemMessage(codeSystem),
		schema.UserMessage(codeHuman),
	)
	return compose.NewChain[string, string](compose.WithChainName("code-example")).
		AppendParallel(contextAnd("request", r), compose.WithStageName("setup_and_retrieval")).
		AppendChatTemplate(tpl).
		AppendChatModel(m).
		AppendStage(strParser()).
		Compile(ctx)
}
