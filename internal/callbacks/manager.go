package callbacks

import "context"

type ctxManagerKey struct{}

type ctxRunInfoKey struct{}

// GlobalHandlers 进程级处理器，在调用方传入的处理器之后执行。
var GlobalHandlers []Handler

type manager struct {
	globalHandlers []Handler
	handlers       []Handler
	runInfo        *RunInfo
}

func newManager(runInfo *RunInfo, handlers ...Handler) (*manager, bool) {
	if len(handlers)+len(GlobalHandlers) == 0 {
		return nil, false
	}

	hs := make([]Handler, len(GlobalHandlers))
	copy(hs, GlobalHandlers)

	return &manager{globalHandlers: hs, handlers: handlers, runInfo: runInfo}, true
}

func (m *manager) withRunInfo(runInfo *RunInfo) *manager {
	n := *m
	n.runInfo = runInfo
	return &n
}

func managerFromCtx(ctx context.Context) (*manager, bool) {
	m, ok := ctx.Value(ctxManagerKey{}).(*manager)
	if ok && m != nil {
		n := *m
		return &n, true
	}
	return nil, false
}

func ctxWithManager(ctx context.Context, m *manager) context.Context {
	return context.WithValue(ctx, ctxManagerKey{}, m)
}

// enabled 返回处理器在该时机是否需要执行。
func enabled(ctx context.Context, h Handler, info *RunInfo, timing CallbackTiming) bool {
	tc, ok := h.(TimingChecker)
	return !ok || tc.Needed(ctx, info, timing)
}
