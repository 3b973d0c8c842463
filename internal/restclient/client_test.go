package restclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favbox/eino-chains/schema"
)

func TestPostJSON(t *testing.T) {
	ctx := context.Background()

	t.Run("鉴权与解码", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/echo", r.URL.Path)
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
			assert.Equal(t, "yes", r.Header.Get("X-Extra"))
			b, _ := io.ReadAll(r.Body)
			_, _ = w.Write(b)
		}))
		defer srv.Close()

		c := New(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Headers: map[string]string{"X-Extra": "yes"}})
		var out map[string]any
		require.NoError(t, c.PostJSON(ctx, "echo", "/echo", map[string]any{"a": "b"}, &out))
		assert.Equal(t, map[string]any{"a": "b"}, out)
	})

	t.Run("5xx 重试", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
		defer srv.Close()

		c := New(Config{BaseURL: srv.URL, MaxRetries: 2})
		c.retry.InitialBackoff = time.Millisecond
		var out map[string]bool
		require.NoError(t, c.PostJSON(ctx, "x", "/", struct{}{}, &out))
		assert.True(t, out["ok"])
		assert.EqualValues(t, 3, calls.Load())
	})

	t.Run("4xx 不重试", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
		}))
		defer srv.Close()

		c := New(Config{BaseURL: srv.URL, MaxRetries: 3})
		err := c.PostJSON(ctx, "chat.completions", "/", struct{}{}, &struct{}{})
		var te *schema.TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, http.StatusUnauthorized, te.StatusCode)
		assert.Equal(t, "chat.completions", te.Op)
		assert.Contains(t, te.Error(), "invalid api key")
		assert.EqualValues(t, 1, calls.Load())
	})

	t.Run("连接失败", func(t *testing.T) {
		c := New(Config{BaseURL: "http://127.0.0.1:1"})
		err := c.PostJSON(ctx, "x", "/", struct{}{}, &struct{}{})
		assert.True(t, schema.IsTransportError(err))
	})
}

func TestEventReader(t *testing.T) {
	body := strings.Join([]string{
		": keep-alive",
		"",
		"data: {\"n\":1}",
		"",
		"event: ping",
		"data:{\"n\":2}",
		"data: [DONE]",
		"data: {\"n\":3}",
	}, "\n")

	er := NewEventReader("x", io.NopCloser(strings.NewReader(body)))
	defer er.Close()

	var got []string
	for {
		data, err := er.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, string(data))
	}
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`}, got)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(&schema.TransportError{StatusCode: 429}))
	assert.True(t, Retryable(&schema.TransportError{StatusCode: 503}))
	assert.True(t, Retryable(&schema.TransportError{}))
	assert.False(t, Retryable(&schema.TransportError{StatusCode: 400}))
	assert.False(t, Retryable(context.Canceled))
}
