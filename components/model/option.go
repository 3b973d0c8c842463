package model

import "github.com/favbox/eino-chains/schema"

// Options 各模型实现共用的调用参数，nil 表示沿用实现的默认值。
type Options struct {
	Temperature *float32
	MaxTokens   *int
	Model       *string
	TopP        *float32
	Stop        []string
	Tools       []*schema.ToolInfo
	ToolChoice  *schema.ToolChoice
	// ForcedTool 与 schema.ToolChoiceForced 配合，指定必须调用的函数名。
	ForcedTool *string
}

// Option 调用选项，既可携带通用参数，也可携带某个实现特有的参数。
type Option struct {
	apply func(opts *Options)

	implSpecificOptFn any
}

func WithTemperature(temperature float32) Option {
	return Option{apply: func(opts *Options) {
		opts.Temperature = &temperature
	}}
}

func WithMaxTokens(maxTokens int) Option {
	return Option{apply: func(opts *Options) {
		opts.MaxTokens = &maxTokens
	}}
}

func WithModel(name string) Option {
	return Option{apply: func(opts *Options) {
		opts.Model = &name
	}}
}

func WithTopP(topP float32) Option {
	return Option{apply: func(opts *Options) {
		opts.TopP = &topP
	}}
}

func WithStop(stop []string) Option {
	return Option{apply: func(opts *Options) {
		opts.Stop = stop
	}}
}

// WithTools nil 会被视为空列表，用于清空已绑定的工具。
func WithTools(tools []*schema.ToolInfo) Option {
	if tools == nil {
		tools = []*schema.ToolInfo{}
	}
	return Option{apply: func(opts *Options) {
		opts.Tools = tools
	}}
}

func WithToolChoice(toolChoice schema.ToolChoice) Option {
	return Option{apply: func(opts *Options) {
		opts.ToolChoice = &toolChoice
	}}
}

// WithForcedTool 强制模型调用名为 name 的函数。
func WithForcedTool(name string) Option {
	return Option{apply: func(opts *Options) {
		choice := schema.ToolChoiceForced
		opts.ToolChoice = &choice
		opts.ForcedTool = &name
	}}
}

// WrapImplSpecificOptFn 包装实现特有的选项函数。
//
//	type openaiOptions struct{ User string }
//
//	func WithUser(u string) model.Option {
//		return model.WrapImplSpecificOptFn(func(o *openaiOptions) { o.User = u })
//	}
func WrapImplSpecificOptFn[T any](optFn func(*T)) Option {
	return Option{implSpecificOptFn: optFn}
}

// GetImplSpecificOptions 从 opts 中取出类型为 func(*T) 的选项并依次应用到 base。
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

// GetCommonOptions 将 opts 中的通用参数依次应用到 base。
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
