package compose

import (
	"context"
	"errors"
	"reflect"

	"github.com/favbox/eino-chains/components"
	"github.com/favbox/eino-chains/components/embedding"
	"github.com/favbox/eino-chains/components/indexer"
	"github.com/favbox/eino-chains/components/model"
	"github.com/favbox/eino-chains/components/parser"
	"github.com/favbox/eino-chains/components/prompt"
	"github.com/favbox/eino-chains/components/retriever"
	"github.com/favbox/eino-chains/internal/generic"
	"github.com/favbox/eino-chains/schema"
)

// componentStage 组件适配得到的阶段。
type componentStage struct {
	cr  *composableRunnable
	err error
}

func (c *componentStage) toComposable() (*composableRunnable, error) {
	return c.cr, c.err
}

func toComponentStage[I, O, TOption any](
	comp any,
	componentType components.Component,
	invoke Invoke[I, O, TOption],
	stream Stream[I, O, TOption],
	collect Collect[I, O, TOption],
	transform Transform[I, O, TOption],
) Stage {
	if comp == nil || (reflect.ValueOf(comp).Kind() == reflect.Pointer && reflect.ValueOf(comp).IsNil()) {
		return &componentStage{err: errors.New(string(componentType) + " component is nil")}
	}

	meta := parseExecutorInfoFromComponent(componentType, comp)
	cr := runnableLambda(invoke, stream, collect, transform, !meta.isComponentCallbackEnabled)
	cr.meta = meta
	return &componentStage{cr: cr}
}

func parseExecutorInfoFromComponent(c components.Component, comp any) *executorMeta {
	typ, ok := components.GetType(comp)
	if !ok {
		typ = generic.ParseTypeName(reflect.ValueOf(comp))
	}
	return &executorMeta{
		component:                  c,
		isComponentCallbackEnabled: components.IsCallbacksEnabled(comp),
		componentImplType:          typ,
	}
}

// ChatTemplate map[string]any => []*schema.Message。
func ChatTemplate(t prompt.ChatTemplate) Stage {
	if t == nil {
		return &componentStage{err: errors.New("chat template is nil")}
	}
	return toComponentStage(t, components.ComponentOfPrompt, t.Format, nil, nil, nil)
}

// ChatModel []*schema.Message => *schema.Message，流式下输出消息分块。
func ChatModel(m model.BaseChatModel) Stage {
	if m == nil {
		return &componentStage{err: errors.New("chat model is nil")}
	}
	return toComponentStage(m, components.ComponentOfChatModel, m.Generate, m.Stream, nil, nil)
}

// Retriever string => []*schema.Document。
func Retriever(r retriever.Retriever) Stage {
	if r == nil {
		return &componentStage{err: errors.New("retriever is nil")}
	}
	return toComponentStage(r, components.ComponentOfRetriever, r.Retrieve, nil, nil, nil)
}

// Embedding []string => [][]float64。
func Embedding(e embedding.Embedder) Stage {
	if e == nil {
		return &componentStage{err: errors.New("embedder is nil")}
	}
	return toComponentStage(e, components.ComponentOfEmbedding, e.EmbedStrings, nil, nil, nil)
}

// Indexer []*schema.Document => []string。
func Indexer(i indexer.Indexer) Stage {
	if i == nil {
		return &componentStage{err: errors.New("indexer is nil")}
	}
	return toComponentStage(i, components.ComponentOfIndexer, i.Store, nil, nil, nil)
}

// Parser *schema.Message => T。解析器实现 parser.StreamParser 时，流式模式下逐块解析。
func Parser[T any](p parser.Parser[T]) Stage {
	if p == nil {
		return &componentStage{err: errors.New("parser is nil")}
	}

	i := func(ctx context.Context, m *schema.Message, _ ...unreachableOption) (T, error) {
		return p.Parse(ctx, m)
	}

	var t Transform[*schema.Message, T, unreachableOption]
	if sp, ok := p.(parser.StreamParser[T]); ok {
		t = func(ctx context.Context, in *schema.StreamReader[*schema.Message], _ ...unreachableOption) (
			*schema.StreamReader[T], error) {
			return sp.Transform(ctx, in)
		}
	}

	return toComponentStage(p, components.ComponentOfParser, i, nil, nil, t)
}
