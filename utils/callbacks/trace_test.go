package callbacks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/favbox/eino-chains/compose"
	"github.com/favbox/eino-chains/schema"
)

func newRecorder() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	sr := tracetest.NewSpanRecorder()
	return sr, sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
}

func spanNames(spans []sdktrace.ReadOnlySpan) map[string]sdktrace.ReadOnlySpan {
	m := make(map[string]sdktrace.ReadOnlySpan, len(spans))
	for _, s := range spans {
		m[s.Name()] = s
	}
	return m
}

func TestTraceHandler(t *testing.T) {
	ctx := context.Background()
	rec, tp := newRecorder()
	h := NewTraceHandler(tp.Tracer("test"))

	echo := compose.InvokableLambda(func(_ context.Context, in string) (string, error) { return in, nil })
	p := compose.NewParallel().AddLambda("a", echo).AddLambda("b", echo)
	r, err := compose.NewChain[string, map[string]any](compose.WithChainName("root")).
		AppendParallel(p, compose.WithStageName("fanout")).
		Compile(ctx)
	require.NoError(t, err)

	_, err = r.Invoke(ctx, "x", compose.WithCallbacks(h))
	require.NoError(t, err)

	spans := spanNames(rec.Ended())
	require.Len(t, spans, 4)
	root, fanout, a := spans["root"], spans["fanout"], spans["a"]
	require.NotNil(t, root)
	require.NotNil(t, fanout)
	require.NotNil(t, a)

	assert.Equal(t, root.SpanContext().SpanID(), fanout.Parent().SpanID())
	assert.Equal(t, fanout.SpanContext().SpanID(), a.Parent().SpanID())
	assert.Equal(t, codes.Ok, root.Status().Code)
}

func TestTraceHandlerError(t *testing.T) {
	ctx := context.Background()
	rec, tp := newRecorder()
	h := NewTraceHandler(tp.Tracer("test"))

	fail := compose.InvokableLambda(func(_ context.Context, in string) (string, error) {
		return "", errors.New("boom")
	})
	r, err := compose.NewChain[string, string](compose.WithChainName("root")).
		AppendLambda(fail, compose.WithStageName("fail")).
		Compile(ctx)
	require.NoError(t, err)

	_, err = r.Invoke(ctx, "x", compose.WithCallbacks(h))
	require.Error(t, err)

	spans := spanNames(rec.Ended())
	require.Contains(t, spans, "fail")
	assert.Equal(t, codes.Error, spans["fail"].Status().Code)
	assert.Equal(t, "boom", spans["fail"].Status().Description)
	require.Len(t, spans["fail"].Events(), 1)
	assert.Equal(t, "exception", spans["fail"].Events()[0].Name)
	assert.Equal(t, codes.Error, spans["root"].Status().Code)
}

func TestTraceHandlerStream(t *testing.T) {
	ctx := context.Background()
	rec, tp := newRecorder()
	h := NewTraceHandler(tp.Tracer("test"))

	gen := compose.StreamableLambda(func(_ context.Context, in string) (*schema.StreamReader[string], error) {
		return schema.StreamReaderFromArray([]string{in, in}), nil
	})
	r, err := compose.NewChain[string, string](compose.WithChainName("root")).
		AppendLambda(gen, compose.WithStageName("gen")).
		Compile(ctx)
	require.NoError(t, err)

	sr, err := r.Stream(ctx, "a", compose.WithCallbacks(h))
	require.NoError(t, err)
	_, err = schema.ReadAll(sr)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(rec.Ended()) == 2 }, time.Second, 10*time.Millisecond)
	gs := spanNames(rec.Ended())["gen"]
	require.NotNil(t, gs)
	var chunks int64
	for _, kv := range gs.Attributes() {
		if kv.Key == "chains.stream_chunks" {
			chunks = kv.Value.AsInt64()
		}
	}
	assert.EqualValues(t, 2, chunks)
}
