// Package server 以 HTTP 暴露流水线：同步调用、SSE 流式输出与批量调用。
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/favbox/eino-chains/callbacks"
	"github.com/favbox/eino-chains/compose"
	"github.com/favbox/eino-chains/pipelines"
	"github.com/favbox/eino-chains/schema"
)

type Config struct {
	Addr string
	// JWTSecret 非空时 /v1 下的路由需要 HS256 Bearer Token。
	JWTSecret string
	// Timeout 单个请求的执行时限，0 表示不限。
	Timeout time.Duration
	// Handlers 附加到每次执行的回调。
	Handlers []callbacks.Handler
	Logger   *zap.Logger
}

type Server struct {
	cfg    Config
	reg    *pipelines.Registry
	engine *gin.Engine
	logger *zap.Logger
}

func New(reg *pipelines.Registry, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if logger.Core().Enabled(zap.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{cfg: cfg, reg: reg, engine: gin.New(), logger: logger}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.Use(RequestID(), Recovery(s.logger), AccessLog(s.logger))
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := s.engine.Group("/v1")
	if s.cfg.JWTSecret != "" {
		v1.Use(BearerAuth([]byte(s.cfg.JWTSecret)))
	}
	v1.GET("/pipelines", s.list)
	v1.POST("/pipelines/:name/invoke", s.invoke)
	v1.POST("/pipelines/:name/stream", s.stream)
	v1.POST("/pipelines/:name/batch", s.batch)
}

// Handler 供 httptest 或外部 http.Server 使用。
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run 监听直到 ctx 取消，然后在 10 秒内优雅关闭。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type pipelineInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Input       string `json:"input"`
}

func (s *Server) list(c *gin.Context) {
	entries := s.reg.List()
	out := make([]pipelineInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, pipelineInfo{Name: e.Name, Description: e.Description, Input: string(e.Input)})
	}
	c.JSON(http.StatusOK, gin.H{"pipelines": out})
}

type invokeRequest struct {
	Input any `json:"input"`
}

type batchRequest struct {
	Inputs      []any `json:"inputs" binding:"required"`
	Concurrency int   `json:"concurrency" binding:"gte=0"`
}

func (s *Server) fail(c *gin.Context, err error) {
	body, status := errorBody(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("pipeline failed",
			zap.String("pipeline", c.Param("name")),
			zap.String("request_id", c.GetString(ctxRequestID)),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error": &pipelines.ErrorInfo{Kind: "bad_request", Message: err.Error()},
	})
}

// prepare 查找流水线并生成执行上下文与选项。
func (s *Server) prepare(c *gin.Context) (*pipelines.Entry, context.Context, context.CancelFunc, []compose.Option, bool) {
	entry, err := s.reg.Get(c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return nil, nil, nil, nil, false
	}

	ctx, cancel := c.Request.Context(), context.CancelFunc(func() {})
	if s.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
	}
	var opts []compose.Option
	if len(s.cfg.Handlers) > 0 {
		opts = append(opts, compose.WithCallbacks(s.cfg.Handlers...))
	}
	return entry, ctx, cancel, opts, true
}

func (s *Server) invoke(c *gin.Context) {
	var req invokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	entry, ctx, cancel, opts, ok := s.prepare(c)
	if !ok {
		return
	}
	defer cancel()

	out, err := entry.Runnable.Invoke(ctx, req.Input, opts...)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"output": out})
}

func (s *Server) batch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	entry, ctx, cancel, opts, ok := s.prepare(c)
	if !ok {
		return
	}
	defer cancel()

	if req.Concurrency > 0 {
		opts = append(opts, compose.WithBatchConcurrency(req.Concurrency))
	}
	outs, err := entry.Runnable.Batch(ctx, req.Inputs, opts...)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outputs": outs})
}

// stream 以 SSE 逐块输出：每块一条 data 事件，出错时发送 error 事件，正常结束发送 done 事件。
// 流开始后不能再改状态码，之后的错误只能通过 error 事件告知。
func (s *Server) stream(c *gin.Context) {
	var req invokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	entry, ctx, cancel, opts, ok := s.prepare(c)
	if !ok {
		return
	}
	defer cancel()

	// 以单元素输入流调用 Transform，模型阶段才会逐 token 输出
	sr, err := entry.Runnable.Transform(ctx, schema.StreamReaderFromArray([]any{req.Input}), opts...)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer sr.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	c.Stream(func(w io.Writer) bool {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			writeEvent(w, "done", struct{}{})
			return false
		}
		if err != nil {
			body, _ := errorBody(err)
			s.logger.Warn("pipeline stream failed",
				zap.String("pipeline", entry.Name),
				zap.String("request_id", c.GetString(ctxRequestID)),
				zap.Error(err))
			writeEvent(w, "error", body)
			return false
		}
		writeEvent(w, "", chunk)
		return true
	})
}

func writeEvent(w io.Writer, event string, data any) {
	payload, err := sonic.Marshal(data)
	if err != nil {
		payload, _ = sonic.Marshal(&pipelines.ErrorInfo{Kind: "encode", Message: err.Error()})
		event = "error"
	}
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
