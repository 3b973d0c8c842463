package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fast(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestDo(t *testing.T) {
	ctx := context.Background()

	t.Run("重试后成功", func(t *testing.T) {
		calls := 0
		out, err := Do(ctx, fast(3), func(int) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("temporary")
			}
			return "ok", nil
		})
		assert.NoError(t, err)
		assert.Equal(t, "ok", out)
		assert.Equal(t, 3, calls)
	})

	t.Run("次数耗尽", func(t *testing.T) {
		calls := 0
		last := errors.New("last")
		_, err := Do(ctx, fast(2), func(attempt int) (int, error) {
			calls++
			if attempt == 2 {
				return 0, last
			}
			return 0, errors.New("first")
		})
		assert.ErrorIs(t, err, last)
		assert.Equal(t, 2, calls)
	})

	t.Run("不可重试", func(t *testing.T) {
		calls := 0
		permanent := errors.New("permanent")
		cfg := fast(5)
		cfg.RetryIf = func(err error) bool { return !errors.Is(err, permanent) }
		_, err := Do(ctx, cfg, func(int) (int, error) {
			calls++
			return 0, permanent
		})
		assert.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, calls)
	})

	t.Run("等待中取消", func(t *testing.T) {
		ctx, cancel := context.WithCancel(ctx)
		cfg := Config{MaxAttempts: 3, InitialBackoff: time.Hour, MaxBackoff: time.Hour}
		_, err := Do(ctx, cfg, func(int) (int, error) {
			cancel()
			return 0, errors.New("fail")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestBackoff(t *testing.T) {
	cfg := Config{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, BackoffFactor: 2}
	assert.Equal(t, 100*time.Millisecond, backoff(1, cfg))
	assert.Equal(t, 400*time.Millisecond, backoff(3, cfg))
	assert.Equal(t, time.Second, backoff(10, cfg))
}
