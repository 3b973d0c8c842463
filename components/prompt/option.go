package prompt

// Options 模板的通用调用参数。
type Options struct {
	// Variables 调用时追加的变量，优先级高于模板的默认变量，低于 Format 传入的变量。
	Variables map[string]any
}

type Option struct {
	apply func(opts *Options)

	implSpecificOptFn any
}

// WithVariables 为本次调用追加变量。
func WithVariables(vs map[string]any) Option {
	return Option{apply: func(opts *Options) {
		if opts.Variables == nil {
			opts.Variables = make(map[string]any, len(vs))
		}
		for k, v := range vs {
			opts.Variables[k] = v
		}
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

// GetImplSpecificOptions 供自定义模板实现读取其特有选项。
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
