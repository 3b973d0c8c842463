package callbacks

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favbox/eino-chains/compose"
	"github.com/favbox/eino-chains/schema"
)

type capturedEvents struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func newTestHub(t *testing.T) (*sentry.Hub, *capturedEvents) {
	c := &capturedEvents{}
	client, err := sentry.NewClient(sentry.ClientOptions{
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			c.mu.Lock()
			c.events = append(c.events, event)
			c.mu.Unlock()
			return nil
		},
	})
	require.NoError(t, err)
	return sentry.NewHub(client, sentry.NewScope()), c
}

func TestSentryHandler(t *testing.T) {
	ctx := context.Background()
	hub, captured := newTestHub(t)
	h := NewSentryHandler(hub)

	fail := compose.InvokableLambda(func(_ context.Context, in string) (string, error) {
		return "", &schema.ParseError{Raw: in, Err: errors.New("not json")}
	})
	inner := compose.NewChain[string, string](compose.WithChainName("inner")).
		AppendLambda(fail, compose.WithStageName("parse"))
	r, err := compose.NewChain[string, string](compose.WithChainName("outer")).
		AppendStage(inner, compose.WithStageName("inner")).
		Compile(ctx)
	require.NoError(t, err)

	_, err = r.Invoke(ctx, "{", compose.WithCallbacks(h))
	require.Error(t, err)

	// 外层链与内层链收到的是同一错误，只上报一次
	require.Len(t, captured.events, 1)
	ev := captured.events[0]
	assert.Equal(t, "parse", ev.Tags["run_name"])
	assert.Equal(t, "parse", ev.Tags["error_kind"])
}

func TestSentryHandlerPanic(t *testing.T) {
	ctx := context.Background()
	hub, captured := newTestHub(t)
	h := NewSentryHandler(hub)

	boom := compose.InvokableLambda(func(_ context.Context, in string) (string, error) {
		panic("boom")
	})
	inner := compose.NewChain[string, string](compose.WithChainName("inner")).
		AppendLambda(boom, compose.WithStageName("boom"))
	r, err := compose.NewChain[string, string](compose.WithChainName("outer")).
		AppendStage(inner, compose.WithStageName("inner")).
		Compile(ctx)
	require.NoError(t, err)

	_, err = r.Invoke(ctx, "x", compose.WithCallbacks(h))
	require.Error(t, err)

	require.Len(t, captured.events, 1)
	assert.Equal(t, "inner", captured.events[0].Tags["run_name"])
	assert.Equal(t, "panic", captured.events[0].Tags["error_kind"])
}
