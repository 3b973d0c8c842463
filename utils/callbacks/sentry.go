package callbacks

import (
	"context"
	"errors"
	"sync"

	"github.com/getsentry/sentry-go"

	"github.com/favbox/eino-chains/callbacks"
	"github.com/favbox/eino-chains/internal/safe"
	"github.com/favbox/eino-chains/schema"
)

// NewSentryHandler 把执行单元的错误上报到 Sentry，运行信息作为标签。
// hub 为 nil 时使用 sentry.CurrentHub()，需事先调用 sentry.Init。
// 错误沿外层的链与并行向上传播，每个错误只上报一次：组件错误在组件处上报，
// 阶段 panic 在最近的外层组合单元处上报。
func NewSentryHandler(hub *sentry.Hub) callbacks.Handler {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	s := &sentryHandler{}
	return callbacks.NewHandlerBuilder().
		OnErrorFn(func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			if !s.firstReport(err) {
				return ctx
			}
			hub.WithScope(func(scope *sentry.Scope) {
				if info != nil {
					scope.SetTag("run_name", info.Name)
					scope.SetTag("run_type", info.Type)
					scope.SetTag("component", string(info.Component))
				}
				scope.SetTag("error_kind", errorKind(err))
				hub.CaptureException(err)
			})
			return ctx
		}).
		Build()
}

type sentryHandler struct {
	panics sync.Map // *safe.PanicError -> struct{}
}

// firstReport 外层单元收到的是内层已包装的 ExecutionError，只有 panic 需要在此补报。
func (s *sentryHandler) firstReport(err error) bool {
	if !schema.IsExecutionError(err) {
		return true
	}
	var pe *safe.PanicError
	if !errors.As(err, &pe) {
		return false
	}
	_, loaded := s.panics.LoadOrStore(pe, struct{}{})
	return !loaded
}

func errorKind(err error) string {
	switch {
	case safe.IsPanic(err):
		return "panic"
	case schema.IsFormatError(err):
		return "format"
	case schema.IsParseError(err):
		return "parse"
	case schema.IsTransportError(err):
		return "transport"
	case schema.IsKeyError(err):
		return "key"
	default:
		return "execution"
	}
}
