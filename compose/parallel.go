package compose

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/favbox/eino-chains/components/embedding"
	"github.com/favbox/eino-chains/components/indexer"
	"github.com/favbox/eino-chains/components/model"
	"github.com/favbox/eino-chains/components/prompt"
	"github.com/favbox/eino-chains/components/retriever"
	"github.com/favbox/eino-chains/internal/safe"
	"github.com/favbox/eino-chains/schema"
)

// NewParallel 创建并行映射。
func NewParallel() *Parallel {
	return &Parallel{keys: make(map[string]bool)}
}

// Parallel 并行映射：每个分支以相同的输入并发执行，输出为 {key: 分支输出}。
// 任一分支失败时其余分支的 ctx 被取消，返回的 ExecutionError.Key 为最先失败的分支，不返回部分结果。
//
//	p := compose.NewParallel().
//		AddStage("context", compose.Retriever(r)).
//		AddPassthrough("question")
//	chain.AppendParallel(p)
type Parallel struct {
	branches []parallelBranch
	keys     map[string]bool
	err      error
}

type parallelBranch struct {
	key  string
	s    Stage
	opts []StageOpt
}

// AddStage 以 key 为输出键添加分支，分支的默认阶段名称即为 key。
func (p *Parallel) AddStage(key string, s Stage, opts ...StageOpt) *Parallel {
	if p.err != nil {
		return p
	}
	if p.keys[key] {
		p.err = fmt.Errorf("%w: %s", ErrDuplicateKey, key)
		return p
	}
	p.keys[key] = true
	p.branches = append(p.branches, parallelBranch{key: key, s: s, opts: opts})
	return p
}

func (p *Parallel) AddLambda(key string, l *Lambda, opts ...StageOpt) *Parallel {
	return p.AddStage(key, l, opts...)
}

func (p *Parallel) AddChatTemplate(key string, t prompt.ChatTemplate, opts ...StageOpt) *Parallel {
	return p.AddStage(key, ChatTemplate(t), opts...)
}

func (p *Parallel) AddChatModel(key string, m model.BaseChatModel, opts ...StageOpt) *Parallel {
	return p.AddStage(key, ChatModel(m), opts...)
}

func (p *Parallel) AddRetriever(key string, r retriever.Retriever, opts ...StageOpt) *Parallel {
	return p.AddStage(key, Retriever(r), opts...)
}

func (p *Parallel) AddEmbedding(key string, e embedding.Embedder, opts ...StageOpt) *Parallel {
	return p.AddStage(key, Embedding(e), opts...)
}

func (p *Parallel) AddIndexer(key string, i indexer.Indexer, opts ...StageOpt) *Parallel {
	return p.AddStage(key, Indexer(i), opts...)
}

// AddPassthrough 分支原样输出输入。
func (p *Parallel) AddPassthrough(key string, opts ...StageOpt) *Parallel {
	return p.AddStage(key, Passthrough(), opts...)
}

// AddProjection 分支输出输入映射中 from 对应的值。
func (p *Parallel) AddProjection(key, from string, opts ...StageOpt) *Parallel {
	return p.AddStage(key, Projection(from), opts...)
}

func (p *Parallel) toComposable() (*composableRunnable, error) {
	if p == nil {
		return nil, fmt.Errorf("parallel is nil")
	}
	if p.err != nil {
		return nil, p.err
	}
	if len(p.branches) == 0 {
		return nil, ErrEmptyParallel
	}

	pr := &parallelRunner{}
	for _, b := range p.branches {
		st, err := newStage(b.s, b.key, b.opts...)
		if err != nil {
			return nil, fmt.Errorf("parallel branch %s invalid: %w", b.key, err)
		}
		pr.keys = append(pr.keys, b.key)
		pr.stages = append(pr.stages, st)
	}

	cr := &composableRunnable{
		i:          pr.invoke,
		s:          pr.stream,
		c:          pr.collect,
		t:          pr.transform,
		inputType:  pr.inputType(),
		outputType: mapType,
		optionType: optionType,
		meta:       &executorMeta{component: ComponentOfParallel},
	}
	return withCompositeCallbacks(cr), nil
}

type parallelRunner struct {
	keys   []string
	stages []*stage
}

// inputType 各分支共同的输入类型；接收 any 的分支不参与判断，无法统一时为 any。
func (pr *parallelRunner) inputType() reflect.Type {
	var typ reflect.Type
	for _, s := range pr.stages {
		t := s.cr.inputType
		if t == anyType {
			continue
		}
		if typ != nil && typ != t {
			return anyType
		}
		typ = t
	}
	if typ == nil {
		return anyType
	}
	return typ
}

func (pr *parallelRunner) assemble(outs []any) map[string]any {
	m := make(map[string]any, len(outs))
	for i, out := range outs {
		m[pr.keys[i]] = out
	}
	return m
}

func (pr *parallelRunner) invoke(ctx context.Context, input any, opts ...any) (any, error) {
	g, gctx := errgroup.WithContext(ctx)
	outs := make([]any, len(pr.stages))
	for i, s := range pr.stages {
		g.Go(func() error {
			out, err := s.invoke(gctx, input, opts...)
			if err != nil {
				return wrapBranchError(s.name, pr.keys[i], err)
			}
			outs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pr.assemble(outs), nil
}

func (pr *parallelRunner) collect(ctx context.Context, input streamReader, opts ...any) (any, error) {
	cps := input.copy(len(pr.stages))
	g, gctx := errgroup.WithContext(ctx)
	outs := make([]any, len(pr.stages))
	for i, s := range pr.stages {
		g.Go(func() error {
			out, err := s.collect(gctx, cps[i], opts...)
			if err != nil {
				return wrapBranchError(s.name, pr.keys[i], err)
			}
			outs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pr.assemble(outs), nil
}

func (pr *parallelRunner) stream(ctx context.Context, input any, opts ...any) (streamReader, error) {
	return pr.startBranches(ctx, func(ctx context.Context, i int, s *stage) (streamReader, error) {
		return s.stream(ctx, input, opts...)
	})
}

func (pr *parallelRunner) transform(ctx context.Context, input streamReader, opts ...any) (streamReader, error) {
	cps := input.copy(len(pr.stages))
	return pr.startBranches(ctx, func(ctx context.Context, i int, s *stage) (streamReader, error) {
		return s.transform(ctx, cps[i], opts...)
	})
}

// startBranches 并发启动各分支的输出流，合并为 {key: chunk} 分块组成的流。
// 分支流中的错误标注键后交给读取方，同时取消其余分支。
func (pr *parallelRunner) startBranches(ctx context.Context,
	start func(ctx context.Context, i int, s *stage) (streamReader, error)) (streamReader, error) {

	ctx, cancel := context.WithCancel(ctx)
	srs := make([]*schema.StreamReader[map[string]any], len(pr.stages))

	var g errgroup.Group
	for i, s := range pr.stages {
		key := pr.keys[i]
		g.Go(func() error {
			sr, err := start(ctx, i, s)
			if err != nil {
				cancel()
				return wrapBranchError(s.name, key, err)
			}
			sr = sr.withKey(key).withErrWrapper(func(err error) error {
				return wrapBranchError(s.name, key, err)
			})
			srs[i] = unpackStreamReader[map[string]any](sr)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, sr := range srs {
			if sr != nil {
				sr.Close()
			}
		}
		cancel()
		return nil, err
	}

	return packStreamReader(pumpMerged(schema.MergeStreamReaders(srs), len(srs), cancel)), nil
}

// pumpMerged 转发合并流。遇到错误、读取完毕或下游关闭时调用 done。
func pumpMerged(merged *schema.StreamReader[map[string]any], capacity int,
	done func()) *schema.StreamReader[map[string]any] {
	out, w := schema.Pipe[map[string]any](capacity)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				w.Send(nil, safe.NewPanicErr(p, debug.Stack()))
			}
			merged.Close()
			w.Close()
			done()
		}()

		for {
			chunk, err := merged.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				w.Send(nil, err)
				return
			}
			if closed := w.Send(chunk, nil); closed {
				return
			}
		}
	}()

	return out
}
