package callbacks

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/favbox/eino-chains/callbacks"
	"github.com/favbox/eino-chains/schema"
)

type startKey struct{}

// NewLogHandler 以结构化日志记录每个执行单元的开始、结束与错误。
// 开始为 Debug 级别，结束为 Info，错误为 Error；流式输出在副本读完后记录分块数。
func NewLogHandler(logger *zap.Logger) callbacks.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &logHandler{logger: logger}
	return callbacks.NewHandlerBuilder().
		OnStartFn(l.onStart).
		OnEndFn(l.onEnd).
		OnErrorFn(l.onError).
		OnStartWithStreamInputFn(l.onStartWithStreamInput).
		OnEndWithStreamOutputFn(l.onEndWithStreamOutput).
		Build()
}

type logHandler struct {
	logger *zap.Logger
}

func runFields(info *callbacks.RunInfo) []zap.Field {
	if info == nil {
		return nil
	}
	return []zap.Field{
		zap.String("run_name", info.Name),
		zap.String("run_type", info.Type),
		zap.String("component", string(info.Component)),
	}
}

func elapsed(ctx context.Context) zap.Field {
	if start, ok := ctx.Value(startKey{}).(time.Time); ok {
		return zap.Duration("duration", time.Since(start))
	}
	return zap.Skip()
}

func (l *logHandler) onStart(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackInput) context.Context {
	l.logger.Debug("stage start", runFields(info)...)
	return context.WithValue(ctx, startKey{}, time.Now())
}

func (l *logHandler) onEnd(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackOutput) context.Context {
	l.logger.Info("stage end", append(runFields(info), elapsed(ctx))...)
	return ctx
}

func (l *logHandler) onError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	l.logger.Error("stage failed", append(runFields(info), elapsed(ctx), zap.Error(err))...)
	return ctx
}

func (l *logHandler) onStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo,
	input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	input.Close()
	l.logger.Debug("stage start", append(runFields(info), zap.Bool("stream_input", true))...)
	return context.WithValue(ctx, startKey{}, time.Now())
}

func (l *logHandler) onEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo,
	output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	fields := append(runFields(info), zap.Bool("stream_output", true))
	go func() {
		defer output.Close()
		chunks := 0
		for {
			_, err := output.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				l.logger.Error("stage stream failed", append(fields, elapsed(ctx), zap.Int("chunks", chunks), zap.Error(err))...)
				return
			}
			chunks++
		}
		l.logger.Info("stage end", append(fields, elapsed(ctx), zap.Int("chunks", chunks))...)
	}()
	return ctx
}
