package callbacks

import "github.com/favbox/eino-chains/internal/callbacks"

// RunInfo 触发回调的执行单元信息。
type RunInfo = callbacks.RunInfo

// CallbackInput 组件传给回调的输入，具体类型由组件定义，
// 例如 model.ConvCallbackInput 可将其转换为 *model.CallbackInput。
type CallbackInput = callbacks.CallbackInput

// CallbackOutput 组件传给回调的输出。
type CallbackOutput = callbacks.CallbackOutput

type Handler = callbacks.Handler

// AppendGlobalHandlers 追加进程级处理器。非并发安全，只应在初始化阶段调用。
func AppendGlobalHandlers(handlers ...Handler) {
	callbacks.GlobalHandlers = append(callbacks.GlobalHandlers, handlers...)
}

type CallbackTiming = callbacks.CallbackTiming

const (
	TimingOnStart                = callbacks.TimingOnStart
	TimingOnEnd                  = callbacks.TimingOnEnd
	TimingOnError                = callbacks.TimingOnError
	TimingOnStartWithStreamInput = callbacks.TimingOnStartWithStreamInput
	TimingOnEndWithStreamOutput  = callbacks.TimingOnEndWithStreamOutput
)

// TimingChecker 处理器可选实现，跳过不需要的时机。HandlerBuilder 构建的处理器已实现。
type TimingChecker = callbacks.TimingChecker
