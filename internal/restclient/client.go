// Package restclient JSON over HTTP 的访问封装：Bearer 鉴权、429/5xx 重试、SSE 读取，
// 供 OpenAI 兼容的模型、向量化组件与 Weaviate 检索器共用。
package restclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/favbox/eino-chains/internal/retry"
	"github.com/favbox/eino-chains/schema"
)

// Config 连接配置。
type Config struct {
	APIKey string
	// BaseURL 服务地址前缀，请求路径拼接在其后。
	BaseURL string
	// Timeout 单次请求超时，对流式请求只约束建立连接与读取响应头。
	Timeout time.Duration
	// MaxRetries 429 与 5xx 的最大重试次数，0 表示不重试。
	MaxRetries int
	Headers    map[string]string
	HTTPClient *http.Client
}

// Client 线程安全，可被多个组件实例共享。
type Client struct {
	baseURL string
	apiKey  string
	headers map[string]string
	timeout time.Duration
	hc      *http.Client
	retry   retry.Config
}

func New(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	rc := retry.Default()
	rc.MaxAttempts = cfg.MaxRetries + 1
	rc.RetryIf = Retryable
	return &Client{
		baseURL: base,
		apiKey:  cfg.APIKey,
		headers: cfg.Headers,
		timeout: cfg.Timeout,
		hc:      hc,
		retry:   rc,
	}
}

// Retryable 限流、服务端错误与网络错误可重试，ctx 结束与 4xx 不重试。
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *schema.TransportError
	if !errors.As(err, &te) {
		return false
	}
	return te.StatusCode == 0 || te.StatusCode == http.StatusTooManyRequests || te.StatusCode >= 500
}

// PostJSON 发送 JSON 请求并把响应解码到 out。
func (c *Client) PostJSON(ctx context.Context, op, path string, body, out any) error {
	payload, err := sonic.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}

	raw, err := retry.Do(ctx, c.retry, func(int) ([]byte, error) {
		reqCtx, cancel := c.withTimeout(ctx)
		defer cancel()

		resp, err := c.send(reqCtx, op, path, payload, false)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &schema.TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
		}
		return b, nil
	})
	if err != nil {
		return err
	}

	if err = sonic.Unmarshal(raw, out); err != nil {
		return &schema.TransportError{Op: op, StatusCode: http.StatusOK,
			Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// PostStream 发送流式请求，返回 SSE 事件读取器。
// 只有建立连接阶段会重试，响应体由调用方负责关闭。
func (c *Client) PostStream(ctx context.Context, op, path string, body any) (*EventReader, error) {
	payload, err := sonic.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", op, err)
	}

	resp, err := retry.Do(ctx, c.retry, func(int) (*http.Response, error) {
		return c.send(ctx, op, path, payload, true)
	})
	if err != nil {
		return nil, err
	}
	return NewEventReader(op, resp.Body), nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// send 非 2xx 时读取响应体作为错误信息并关闭。
func (c *Client) send(ctx context.Context, op, path string, payload []byte, stream bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &schema.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &schema.TransportError{Op: op, Err: err}
	}

	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &schema.TransportError{Op: op, StatusCode: resp.StatusCode,
			Err: errors.New(apiErrorMessage(msg))}
	}
	return resp, nil
}

// apiErrorMessage 优先取 {"error":{"message":...}}，否则返回原文。
func apiErrorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := sonic.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	s := strings.TrimSpace(string(body))
	if s == "" {
		return "empty response body"
	}
	return s
}
