package retriever

import "github.com/favbox/eino-chains/components/embedding"

type Options struct {
	// Index 索引、表或集合名。
	Index *string
	TopK  *int
	// ScoreThreshold 低于该得分的文档被丢弃。
	ScoreThreshold *float64
	// Embedding 查询向量化使用的模型，覆盖实现的默认值。
	Embedding embedding.Embedder
	// Filter 实现相关的过滤表达式，例如元数据键值。
	Filter map[string]any
}

type Option struct {
	apply func(opts *Options)

	implSpecificOptFn any
}

func WithIndex(index string) Option {
	return Option{apply: func(opts *Options) {
		opts.Index = &index
	}}
}

func WithTopK(topK int) Option {
	return Option{apply: func(opts *Options) {
		opts.TopK = &topK
	}}
}

func WithScoreThreshold(threshold float64) Option {
	return Option{apply: func(opts *Options) {
		opts.ScoreThreshold = &threshold
	}}
}

func WithEmbedding(emb embedding.Embedder) Option {
	return Option{apply: func(opts *Options) {
		opts.Embedding = emb
	}}
}

func WithFilter(filter map[string]any) Option {
	return Option{apply: func(opts *Options) {
		opts.Filter = filter
	}}
}

func GetCommonOptions(base *Options, opts ...Option) *Options {
	if base == nil {
		base = &Options{}
	}
	for _, opt := range opts {
		if opt.apply != nil {
			opt.apply(base)
		}
	}
	return base
}

func WrapImplSpecificOptFn[T any](optFn func(*T)) Option {
	return Option{implSpecificOptFn: optFn}
}

func GetImplSpecificOptions[T any](base *T, opts ...Option) *T {
	if base == nil {
		base = new(T)
	}
	for _, opt := range opts {
		if fn, ok := opt.implSpecificOptFn.(func(*T)); ok {
			fn(base)
		}
	}
	return base
}
