// Package components 定义流水线中可组合的基础组件。
//
//   - Typer：返回组件实现类型名称，用于回调中的运行信息
//   - Checker：组件自行触发回调时，compose 不再重复包裹
//   - Component：组件类别常量
//
// 各类组件的接口位于子包：prompt、model、embedding、retriever、indexer、parser。
package components
