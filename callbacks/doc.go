// Package callbacks 为流水线中的每个阶段提供开始、结束、错误与流式回调，
// 用于日志、链路追踪、错误上报等横切逻辑。
//
// 处理器可在三个层级注入：
//   - 全局：AppendGlobalHandlers
//   - 单次调用：compose.WithCallbacks
//   - 组件内部：自行触发回调的组件使用 OnStart/OnEnd/OnError
package callbacks
