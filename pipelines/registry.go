package pipelines

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/favbox/eino-chains/components/model"
	"github.com/favbox/eino-chains/components/retriever"
	"github.com/favbox/eino-chains/compose"
	"github.com/favbox/eino-chains/schema"
)

var (
	ErrPipelineNotFound  = errors.New("pipeline not found")
	ErrDuplicatePipeline = errors.New("pipeline already registered")
)

// InputKind 条目期望的 JSON 输入形态。
type InputKind string

const (
	InputString InputKind = "string"
	InputObject InputKind = "object"
)

// Entry 以 JSON 值为输入的流水线。输入先解码为流水线的入参类型，解码失败返回 FormatError。
type Entry struct {
	Name        string
	Description string
	Input       InputKind
	Runnable    compose.Runnable[any, any]
}

// Registry 按名称保存流水线，可并发读取。
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]*Entry{}}
}

// Register 把强类型的流水线登记为条目。
func Register[I, O any](ctx context.Context, reg *Registry, name, desc string, r compose.Runnable[I, O]) error {
	entry, err := compose.NewChain[any, any](compose.WithChainName(name)).
		AppendLambda(decodeLambda[I](), compose.WithStageName("decode_input")).
		AppendStage(compose.RunnableStage(r), compose.WithStageName(name)).
		Compile(ctx)
	if err != nil {
		return fmt.Errorf("compile pipeline %s: %w", name, err)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePipeline, name)
	}
	reg.entries[name] = &Entry{
		Name:        name,
		Description: desc,
		Input:       inputKindOf(reflect.TypeOf((*I)(nil)).Elem()),
		Runnable:    entry,
	}
	return nil
}

func (r *Registry) Get(name string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, name)
	}
	return e, nil
}

// List 按名称排序。
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func inputKindOf(t reflect.Type) InputKind {
	if t.Kind() == reflect.String {
		return InputString
	}
	return InputObject
}

func decodeLambda[I any]() *compose.Lambda {
	return compose.InvokableLambda(func(_ context.Context, in any) (I, error) {
		return DecodeInput[I](in)
	}, compose.WithLambdaType("DecodeInput"))
}

// DecodeInput 把任意 JSON 值转为 T。nil 解码为零值。
func DecodeInput[T any](in any) (T, error) {
	var out T
	if in == nil {
		return out, nil
	}
	if v, ok := in.(T); ok {
		return v, nil
	}
	raw, err := sonic.Marshal(in)
	if err != nil {
		return out, &schema.FormatError{Err: fmt.Errorf("encode input: %w", err)}
	}
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return out, &schema.FormatError{Err: fmt.Errorf("input must be %s: %w", inputKindOf(reflect.TypeOf(&out).Elem()), err)}
	}
	return out, nil
}

// Dependencies 构建内置流水线所需的组件。CodeRetriever 为 nil 时不登记 code-example。
type Dependencies struct {
	Model         model.ToolCallingChatModel
	Retriever     retriever.Retriever
	CodeRetriever retriever.Retriever
}

// NewDefaultRegistry 登记全部内置流水线。
func NewDefaultRegistry(ctx context.Context, deps Dependencies) (*Registry, error) {
	if deps.Model == nil {
		return nil, errors.New("model is required")
	}
	reg := NewRegistry()
	m := deps.Model

	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if r, err := NewJokeChain(ctx, m); err != nil {
		add(err)
	} else {
		add(Register(ctx, reg, "joke", "tell a joke about {topic}", r))
	}
	if r, err := NewTopicChain(ctx, m); err != nil {
		add(err)
	} else {
		add(Register(ctx, reg, "topic", "tell a joke about the input string", r))
	}
	if r, err := NewChatChain(ctx, m); err != nil {
		add(err)
	} else {
		add(Register(ctx, reg, "chat", "fixed system and human messages", r))
	}
	if r, err := NewTranslateChain(ctx, m); err != nil {
		add(err)
	} else {
		add(Register(ctx, reg, "translate", "translate {text} from {input_language} to {output_language}", r))
	}
	if r, err := NewFunctionJokeChain(ctx, m); err != nil {
		add(err)
	} else {
		add(Register(ctx, reg, "function-joke", "joke setup returned through a forced function call", r))
	}
	if r, err := NewArgumentChain(ctx, m); err != nil {
		add(err)
	} else {
		add(Register(ctx, reg, "argument", "argue about {input}, critique with pros and cons, then revise", r))
	}
	if r, err := NewActorChain(ctx, m); err != nil {
		add(err)
	} else {
		add(Register(ctx, reg, "actor", "filmography of an actor as structured output", r))
	}
	if deps.Retriever != nil {
		if r, err := NewRAGChain(ctx, deps.Retriever, m); err != nil {
			add(err)
		} else {
			add(Register(ctx, reg, "rag", "answer the question from retrieved documents", r))
		}
	}
	if deps.CodeRetriever != nil {
		if r, err := NewCodeExampleChain(ctx, deps.CodeRetriever, m); err != nil {
			add(err)
		} else {
			add(Register(ctx, reg, "code-example", "fulfill a request with retrieved code examples", r))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return reg, nil
}
