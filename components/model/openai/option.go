package openai

import "github.com/favbox/eino-chains/components/model"

type options struct {
	JSONMode bool
	Seed     *int
	User     *string
}

// WithJSONMode 要求模型输出 JSON 对象（response_format=json_object）。
func WithJSONMode() model.Option {
	return model.WrapImplSpecificOptFn(func(o *options) {
		o.JSONMode = true
	})
}

func WithSeed(seed int) model.Option {
	return model.WrapImplSpecificOptFn(func(o *options) {
		o.Seed = &seed
	})
}

// WithUser 终端用户标识，供服务端做滥用监测。
func WithUser(user string) model.Option {
	return model.WrapImplSpecificOptFn(func(o *options) {
		o.User = &user
	})
}
