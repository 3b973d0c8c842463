package main

import (
	"context"
	"errors"
	"fmt"

	lcopenai "github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/favbox/eino-chains/callbacks"
	"github.com/favbox/eino-chains/components/embedding"
	embopenai "github.com/favbox/eino-chains/components/embedding/openai"
	"github.com/favbox/eino-chains/components/indexer"
	"github.com/favbox/eino-chains/components/model"
	"github.com/favbox/eino-chains/components/model/langchain"
	"github.com/favbox/eino-chains/components/model/openai"
	"github.com/favbox/eino-chains/components/retriever"
	"github.com/favbox/eino-chains/internal/config"
	"github.com/favbox/eino-chains/internal/telemetry"
	"github.com/favbox/eino-chains/pipelines"
	cbutils "github.com/favbox/eino-chains/utils/callbacks"
	"github.com/favbox/eino-chains/vectorstore/memory"
	"github.com/favbox/eino-chains/vectorstore/pgvector"
	"github.com/favbox/eino-chains/vectorstore/sqlite"
	"github.com/favbox/eino-chains/vectorstore/weaviate"
)

type documentStore interface {
	indexer.Indexer
	retriever.Retriever
}

// app 一次命令执行所需的全部依赖。
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	handlers []callbacks.Handler
	registry *pipelines.Registry
	store    documentStore

	closers []func(context.Context) error
}

func newApp(ctx context.Context, opts *rootOptions) (_ *app, err error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := telemetry.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.close(context.Background())
		}
	}()

	tracer, shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing, version, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdownTracing)

	hub, flushSentry, err := telemetry.SetupSentry(cfg.Sentry, version)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, flushSentry)

	a.handlers = append(a.handlers, cbutils.NewLogHandler(logger))
	if cfg.Tracing.Enabled {
		a.handlers = append(a.handlers, cbutils.NewTraceHandler(tracer))
	}
	if hub != nil {
		a.handlers = append(a.handlers, cbutils.NewSentryHandler(hub))
	}

	emb, err := embopenai.NewEmbedder(ctx, &embopenai.EmbeddingConfig{
		APIKey:     cfg.OpenAI.APIKey,
		BaseURL:    cfg.OpenAI.BaseURL,
		Model:      cfg.OpenAI.EmbeddingModel,
		Timeout:    cfg.OpenAI.Timeout,
		MaxRetries: cfg.OpenAI.MaxRetries,
	})
	if err != nil {
		return nil, err
	}

	if a.store, err = a.openStore(ctx, emb); err != nil {
		return nil, err
	}

	cm, err := newChatModel(ctx, cfg.OpenAI)
	if err != nil {
		return nil, err
	}

	deps := pipelines.Dependencies{Model: cm, Retriever: a.store}
	if cfg.Weaviate.URL != "" {
		if deps.CodeRetriever, err = newCodeRetriever(ctx, cfg.Weaviate, emb); err != nil {
			return nil, err
		}
	}

	if a.registry, err = pipelines.NewDefaultRegistry(ctx, deps); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context, emb embedding.Embedder) (documentStore, error) {
	sc := a.cfg.Store
	switch sc.Driver {
	case "memory":
		return memory.New(&memory.Config{Embedding: emb})
	case "sqlite":
		s, err := sqlite.New(ctx, &sqlite.Config{DSN: sc.DSN, Embedding: emb})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
		return s, nil
	case "pgvector":
		s, err := pgvector.New(ctx, &pgvector.Config{DSN: sc.DSN, Dimension: sc.Dimension, Embedding: emb})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error {
			s.Close()
			return nil
		})
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", sc.Driver)
	}
}

// newCodeRetriever 默认走 nearText，只有 use_embedding 打开时才把本地 embedder 交给 weaviate。
func newCodeRetriever(ctx context.Context, wc config.WeaviateConfig, emb embedding.Embedder) (retriever.Retriever, error) {
	c := &weaviate.Config{
		URL:          wc.URL,
		Class:        wc.Class,
		ContentField: wc.ContentField,
		TopK:         wc.TopK,
	}
	if wc.UseEmbedding {
		c.Embedding = emb
	}
	return weaviate.NewRetriever(ctx, c)
}

func newChatModel(ctx context.Context, oc config.OpenAIConfig) (model.ToolCallingChatModel, error) {
	if oc.Provider != "langchain" {
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:     oc.APIKey,
			BaseURL:    oc.BaseURL,
			Model:      oc.Model,
			Timeout:    oc.Timeout,
			MaxRetries: oc.MaxRetries,
		})
	}

	lcOpts := []lcopenai.Option{lcopenai.WithModel(oc.Model)}
	if oc.APIKey != "" {
		lcOpts = append(lcOpts, lcopenai.WithToken(oc.APIKey))
	}
	if oc.BaseURL != "" {
		lcOpts = append(lcOpts, lcopenai.WithBaseURL(oc.BaseURL))
	}
	llm, err := lcopenai.New(lcOpts...)
	if err != nil {
		return nil, fmt.Errorf("create langchaingo openai client: %w", err)
	}
	return langchain.NewChatModel(llm, "LangChainOpenAI")
}

// close 逆序释放资源，并刷新日志。
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
