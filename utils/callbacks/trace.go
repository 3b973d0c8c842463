package callbacks

import (
	"context"
	"errors"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/favbox/eino-chains/callbacks"
	"github.com/favbox/eino-chains/schema"
)

type spanKey struct{}

// NewTraceHandler 为每个执行单元创建一个 span，嵌套的链与并行分支形成父子关系。
// 流式输出的 span 在副本读完时结束。
func NewTraceHandler(tracer trace.Tracer) callbacks.Handler {
	t := &traceHandler{tracer: tracer}
	return callbacks.NewHandlerBuilder().
		OnStartFn(t.onStart).
		OnEndFn(t.onEnd).
		OnErrorFn(t.onError).
		OnStartWithStreamInputFn(t.onStartWithStreamInput).
		OnEndWithStreamOutputFn(t.onEndWithStreamOutput).
		Build()
}

type traceHandler struct {
	tracer trace.Tracer
}

func spanName(info *callbacks.RunInfo) string {
	if info == nil {
		return "stage"
	}
	if info.Name != "" {
		return info.Name
	}
	if info.Type != "" {
		return info.Type + string(info.Component)
	}
	return string(info.Component)
}

func (t *traceHandler) start(ctx context.Context, info *callbacks.RunInfo, stream bool) context.Context {
	attrs := []attribute.KeyValue{attribute.Bool("chains.stream_input", stream)}
	if info != nil {
		attrs = append(attrs,
			attribute.String("chains.run_name", info.Name),
			attribute.String("chains.run_type", info.Type),
			attribute.String("chains.component", string(info.Component)),
		)
	}
	ctx, span := t.tracer.Start(ctx, spanName(info), trace.WithAttributes(attrs...))
	return context.WithValue(ctx, spanKey{}, span)
}

// spanOf 只结束本处理器创建的 span，不触碰上游传入的 span。
func spanOf(ctx context.Context) (trace.Span, bool) {
	span, ok := ctx.Value(spanKey{}).(trace.Span)
	return span, ok
}

func (t *traceHandler) onStart(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackInput) context.Context {
	return t.start(ctx, info, false)
}

func (t *traceHandler) onStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo,
	input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	input.Close()
	return t.start(ctx, info, true)
}

func (t *traceHandler) onEnd(ctx context.Context, _ *callbacks.RunInfo, _ callbacks.CallbackOutput) context.Context {
	if span, ok := spanOf(ctx); ok {
		span.SetStatus(codes.Ok, "")
		span.End()
	}
	return ctx
}

func (t *traceHandler) onError(ctx context.Context, _ *callbacks.RunInfo, err error) context.Context {
	if span, ok := spanOf(ctx); ok {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
	}
	return ctx
}

func (t *traceHandler) onEndWithStreamOutput(ctx context.Context, _ *callbacks.RunInfo,
	output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	span, ok := spanOf(ctx)
	if !ok {
		output.Close()
		return ctx
	}
	go func() {
		defer output.Close()
		chunks := 0
		for {
			_, err := output.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				span.End()
				return
			}
			chunks++
		}
		span.SetAttributes(attribute.Int("chains.stream_chunks", chunks))
		span.SetStatus(codes.Ok, "")
		span.End()
	}()
	return ctx
}
