// Package pipelines 提供一组开箱即用的流水线，覆盖常见的编排方式：
// 单模板问答、检索增强、系统与用户消息、函数调用、多链协作、结构化输出。
//
// 每个 New*Chain 返回强类型的 compose.Runnable；Registry 把它们统一为以 JSON 值为输入的条目，
// 供 HTTP 服务、NATS 与命令行使用。
package pipelines
