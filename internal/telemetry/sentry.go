package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/favbox/eino-chains/internal/config"
)

// SetupSentry 初始化全局 Sentry 客户端。dsn 为空时不启用，返回的 hub 为 nil。
func SetupSentry(cfg config.SentryConfig, release string) (*sentry.Hub, Shutdown, error) {
	if cfg.DSN == "" {
		return nil, noopShutdown, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     release,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init sentry: %w", err)
	}
	flush := func(ctx context.Context) error {
		timeout := 2 * time.Second
		if dl, ok := ctx.Deadline(); ok {
			timeout = time.Until(dl)
		}
		if !sentry.Flush(timeout) {
			return fmt.Errorf("sentry flush timed out")
		}
		return nil
	}
	return sentry.CurrentHub(), flush, nil
}
