package indexer

import "github.com/favbox/eino-chains/components/embedding"

type Options struct {
	// Index 写入的索引、表或集合名。
	Index *string
	// Embedding 写入前计算向量使用的模型。
	Embedding embedding.Embedder
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

func WithEmbedding(emb embedding.Embedder) Option {
	return Option{apply: func(opts *Options) {
		opts.Embedding = emb
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
