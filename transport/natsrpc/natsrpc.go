// Package natsrpc 通过 NATS 请求-应答调用流水线。
//
// 服务端订阅 <subject>.<pipeline>，请求体为 {"input": ...}，
// 应答为 {"output": ...} 或 {"error": {"kind": ..., "message": ...}}。
package natsrpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/favbox/eino-chains/callbacks"
	"github.com/favbox/eino-chains/compose"
	"github.com/favbox/eino-chains/pipelines"
)

type ConnectConfig struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
	Logger        *zap.Logger
}

// Connect 建立连接，ctx 取消时放弃等待。
func Connect(ctx context.Context, cfg ConnectConfig) (*nats.Conn, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url is empty")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "chains"
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("nats connection closed")
		}),
	}

	type result struct {
		nc  *nats.Conn
		err error
	}
	ch := make(chan result, 1)
	go func() {
		nc, err := nats.Connect(cfg.URL, opts...)
		ch <- result{nc, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("connect nats: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("connect nats: %w", r.err)
		}
		return r.nc, nil
	}
}

// Request 请求体。
type Request struct {
	Input any `json:"input"`
}

// Response 应答体，Output 与 Error 二选一。
type Response struct {
	Output any                  `json:"output,omitempty"`
	Error  *pipelines.ErrorInfo `json:"error,omitempty"`
}

type Config struct {
	// Subject 订阅前缀，实际订阅 <Subject>.*。
	Subject string
	// Queue 非空时以队列组订阅，多个实例分摊请求。
	Queue string
	// Timeout 单个请求的执行时限，0 表示不限。
	Timeout  time.Duration
	Handlers []callbacks.Handler
	Logger   *zap.Logger
}

type Service struct {
	nc     *nats.Conn
	reg    *pipelines.Registry
	cfg    Config
	logger *zap.Logger

	mu  sync.Mutex
	sub *nats.Subscription
	// stopping 置位后不再接收新请求，wg.Add 只在 mu 保护下且 stopping 为假时调用
	stopping bool
	// ctx 在 Stop 时取消，中止执行中的请求
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ErrStopping 服务停止后到达的请求以此应答。
var ErrStopping = errors.New("natsrpc service is stopping")

// drainPoll 等待订阅排空时的轮询间隔。
const drainPoll = 10 * time.Millisecond

func NewService(nc *nats.Conn, reg *pipelines.Registry, cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{nc: nc, reg: reg, cfg: cfg, logger: logger, ctx: ctx, cancel: cancel}
}

// Start 开始订阅。每个请求在独立的 goroutine 中执行。
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return errors.New("natsrpc service already started")
	}
	if s.stopping {
		return ErrStopping
	}

	subject := s.cfg.Subject + ".*"
	handler := func(msg *nats.Msg) {
		s.mu.Lock()
		if s.stopping {
			s.mu.Unlock()
			s.reply(msg, &Response{Error: &pipelines.ErrorInfo{Kind: "unavailable", Message: ErrStopping.Error()}})
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()
		go func() {
			defer s.wg.Done()
			s.serve(msg)
		}()
	}

	var (
		sub *nats.Subscription
		err error
	)
	if s.cfg.Queue != "" {
		sub, err = s.nc.QueueSubscribe(subject, s.cfg.Queue, handler)
	} else {
		sub, err = s.nc.Subscribe(subject, handler)
	}
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.sub = sub
	s.logger.Info("natsrpc listening", zap.String("subject", subject), zap.String("queue", s.cfg.Queue))
	return nil
}

// Stop 排空订阅，已投递到本地的请求仍会执行；随后等待执行中的请求结束，ctx 到期时取消它们。
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	var err error
	if sub != nil {
		if err = sub.Drain(); err == nil {
			err = waitDrained(ctx, sub)
		}
	}

	// 排空结束后不会再有回调，此后 wg 只减不增
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.cancel()
		<-done
	}
	s.cancel()
	return err
}

// waitDrained Drain 是异步的，订阅失效才表示缓冲中的消息都已交给回调。
func waitDrained(ctx context.Context, sub *nats.Subscription) error {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for sub.IsValid() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("drain %s: %w", sub.Subject, ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func (s *Service) serve(msg *nats.Msg) {
	name := strings.TrimPrefix(msg.Subject, s.cfg.Subject+".")
	s.reply(msg, s.handle(s.ctx, name, msg.Data))
}

func (s *Service) reply(msg *nats.Msg, resp *Response) {
	if msg.Reply == "" {
		return
	}
	data, err := sonic.Marshal(resp)
	if err != nil {
		data, _ = sonic.Marshal(&Response{Error: &pipelines.ErrorInfo{Kind: "encode", Message: err.Error()}})
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("natsrpc respond failed", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

// handle 解码请求、执行流水线并生成应答。
func (s *Service) handle(ctx context.Context, name string, data []byte) *Response {
	var req Request
	if err := sonic.Unmarshal(data, &req); err != nil {
		return &Response{Error: &pipelines.ErrorInfo{Kind: "bad_request", Message: err.Error()}}
	}

	entry, err := s.reg.Get(name)
	if err != nil {
		return &Response{Error: pipelines.DescribeError(err)}
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	var opts []compose.Option
	if len(s.cfg.Handlers) > 0 {
		opts = append(opts, compose.WithCallbacks(s.cfg.Handlers...))
	}

	start := time.Now()
	out, err := entry.Runnable.Invoke(ctx, req.Input, opts...)
	if err != nil {
		s.logger.Error("natsrpc pipeline failed",
			zap.String("pipeline", name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return &Response{Error: pipelines.DescribeError(err)}
	}
	s.logger.Info("natsrpc pipeline done", zap.String("pipeline", name), zap.Duration("duration", time.Since(start)))
	return &Response{Output: out}
}

// Invoke 客户端：向 <subject>.<pipeline> 发送请求并等待应答。
// 服务端返回的错误以 *pipelines.ErrorInfo 形式返回。
func Invoke(ctx context.Context, nc *nats.Conn, subject, pipeline string, input any) (any, error) {
	data, err := sonic.Marshal(&Request{Input: input})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	msg, err := nc.RequestWithContext(ctx, subject+"."+pipeline, data)
	if err != nil {
		return nil, fmt.Errorf("request %s.%s: %w", subject, pipeline, err)
	}
	var resp Response
	if err := sonic.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Output, nil
}
