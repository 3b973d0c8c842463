package embedding

type Options struct {
	Model *string
}

type Option struct {
	apply func(opts *Options)

	implSpecificOptFn any
}

func WithModel(model string) Option {
	return Option{apply: func(opts *Options) {
		opts.Model = &model
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
