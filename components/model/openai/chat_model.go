package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/bytedance/sonic"

	"github.com/favbox/eino-chains/callbacks"
	"github.com/favbox/eino-chains/components"
	"github.com/favbox/eino-chains/components/model"
	"github.com/favbox/eino-chains/internal/restclient"
	"github.com/favbox/eino-chains/internal/safe"
	"github.com/favbox/eino-chains/schema"
)

const (
	opChat       = "chat.completions"
	pathChat     = "/chat/completions"
	typeName     = "OpenAI"
	streamBuffer = 16

	defaultBaseURL = "https://api.openai.com/v1"
)

type ChatModelConfig struct {
	APIKey string
	// BaseURL 默认 https://api.openai.com/v1。
	BaseURL string
	Model   string
	// Timeout 单次请求超时，0 表示不限制。
	Timeout time.Duration
	// MaxRetries 429 与 5xx 的重试次数。
	MaxRetries int
	Headers    map[string]string
	HTTPClient *http.Client

	// 以下为默认生成参数，可被调用时的 model.Option 覆盖。

	Temperature *float32
	MaxTokens   *int
	TopP        *float32
	Stop        []string
}

// ChatModel OpenAI 兼容的对话模型，支持函数调用与 SSE 流式输出。
// 自行触发回调，回调输入输出为 *model.CallbackInput / *model.CallbackOutput。
type ChatModel struct {
	cli   *restclient.Client
	conf  *ChatModelConfig
	tools []*schema.ToolInfo
}

var _ model.ToolCallingChatModel = (*ChatModel)(nil)

func NewChatModel(_ context.Context, config *ChatModelConfig) (*ChatModel, error) {
	if config == nil {
		return nil, errors.New("openai chat model config is nil")
	}
	if config.Model == "" {
		return nil, errors.New("openai chat model: model name is required")
	}

	return &ChatModel{
		cli: restclient.New(restclient.Config{
			APIKey:     config.APIKey,
			BaseURL:    baseURL(config.BaseURL),
			Timeout:    config.Timeout,
			MaxRetries: config.MaxRetries,
			Headers:    config.Headers,
			HTTPClient: config.HTTPClient,
		}),
		conf: config,
	}, nil
}

func (cm *ChatModel) GetType() string {
	return typeName
}

func (cm *ChatModel) IsCallbacksEnabled() bool {
	return true
}

// WithTools 返回绑定了工具的新实例。
func (cm *ChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	if len(tools) == 0 {
		return nil, errors.New("no tools to bind")
	}
	if _, err := toTools(tools); err != nil {
		return nil, err
	}
	nc := *cm
	nc.tools = append([]*schema.ToolInfo(nil), tools...)
	return &nc, nil
}

func (cm *ChatModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (
	outMsg *schema.Message, err error) {

	ctx = callbacks.EnsureRunInfo(ctx, cm.GetType(), components.ComponentOfChatModel)

	req, cbIn, err := cm.buildRequest(in, false, opts...)
	if err != nil {
		return nil, err
	}

	ctx = callbacks.OnStart(ctx, cbIn)
	defer func() {
		if err != nil {
			callbacks.OnError(ctx, err)
		}
	}()

	var resp chatResponse
	if err = cm.cli.PostJSON(ctx, opChat, pathChat, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, &schema.TransportError{Op: opChat, StatusCode: http.StatusOK,
			Err: errors.New("response contains no choices")}
	}

	outMsg = toMessage(resp.Choices[0], resp.Usage)
	callbacks.OnEnd(ctx, &model.CallbackOutput{
		Message:    outMsg,
		Config:     cbIn.Config,
		TokenUsage: toCallbackUsage(outMsg.ResponseMeta.Usage),
	})
	return outMsg, nil
}

// Stream 以 SSE 读取增量，每个事件对应一个消息分块；
// 工具调用分块带 Index，合并后与 Generate 的结果一致。
func (cm *ChatModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (
	outStream *schema.StreamReader[*schema.Message], err error) {

	ctx = callbacks.EnsureRunInfo(ctx, cm.GetType(), components.ComponentOfChatModel)

	req, cbIn, err := cm.buildRequest(in, true, opts...)
	if err != nil {
		return nil, err
	}

	ctx = callbacks.OnStart(ctx, cbIn)
	defer func() {
		if err != nil {
			callbacks.OnError(ctx, err)
		}
	}()

	events, err := cm.cli.PostStream(ctx, opChat, pathChat, req)
	if err != nil {
		return nil, err
	}

	sr, sw := schema.Pipe[*model.CallbackOutput](streamBuffer)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				_ = sw.Send(nil, safe.NewPanicErr(p, debug.Stack()))
			}
			_ = events.Close()
			sw.Close()
		}()

		for {
			data, rErr := events.Next()
			if rErr == io.EOF {
				return
			}
			if rErr != nil {
				_ = sw.Send(nil, rErr)
				return
			}

			var chunk chatResponse
			if uErr := sonic.Unmarshal(data, &chunk); uErr != nil {
				_ = sw.Send(nil, &schema.TransportError{Op: opChat, StatusCode: http.StatusOK,
					Err: fmt.Errorf("decode stream chunk: %w", uErr)})
				return
			}

			msg, ok := toChunk(&chunk)
			if !ok {
				continue
			}

			var tu *model.TokenUsage
			if msg.ResponseMeta != nil {
				tu = toCallbackUsage(msg.ResponseMeta.Usage)
			}
			closed := sw.Send(&model.CallbackOutput{Message: msg, Config: cbIn.Config, TokenUsage: tu}, nil)
			if closed {
				return
			}
		}
	}()

	_, sr = callbacks.OnEndWithStreamOutput(ctx, sr)

	outStream = schema.StreamReaderWithConvert(sr, func(o *model.CallbackOutput) (*schema.Message, error) {
		return o.Message, nil
	})
	return outStream, nil
}

// buildRequest 合并配置与调用选项，同时生成回调输入。
func (cm *ChatModel) buildRequest(in []*schema.Message, stream bool, opts ...model.Option) (
	*chatRequest, *model.CallbackInput, error) {

	if len(in) == 0 {
		return nil, nil, errors.New("openai chat model: input messages are empty")
	}

	o := model.GetCommonOptions(&model.Options{
		Temperature: cm.conf.Temperature,
		MaxTokens:   cm.conf.MaxTokens,
		Model:       &cm.conf.Model,
		TopP:        cm.conf.TopP,
		Stop:        cm.conf.Stop,
		Tools:       cm.tools,
	}, opts...)
	implOpts := model.GetImplSpecificOptions(&options{}, opts...)

	msgs, err := toChatMessages(in)
	if err != nil {
		return nil, nil, err
	}
	tools, err := toTools(o.Tools)
	if err != nil {
		return nil, nil, err
	}
	tc, err := toToolChoice(o.ToolChoice, o.ForcedTool, tools)
	if err != nil {
		return nil, nil, err
	}

	req := &chatRequest{
		Model:       *o.Model,
		Messages:    msgs,
		Temperature: o.Temperature,
		MaxTokens:   o.MaxTokens,
		TopP:        o.TopP,
		Stop:        o.Stop,
		Seed:        implOpts.Seed,
		User:        implOpts.User,
		Tools:       tools,
		ToolChoice:  tc,
		Stream:      stream,
	}
	if stream {
		req.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	if implOpts.JSONMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	cfg := &model.Config{Model: req.Model, Stop: req.Stop}
	if req.MaxTokens != nil {
		cfg.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		cfg.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		cfg.TopP = *req.TopP
	}

	return req, &model.CallbackInput{
		Messages:   in,
		Tools:      o.Tools,
		ToolChoice: o.ToolChoice,
		Config:     cfg,
	}, nil
}

func baseURL(u string) string {
	if u == "" {
		return defaultBaseURL
	}
	return u
}
