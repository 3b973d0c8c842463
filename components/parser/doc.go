// Package parser 把模型输出的消息解析为字符串或结构化数据。
//
//   - StrParser：取消息内容，支持流式逐块输出
//   - JSONParser：解析 JSON 内容或工具调用参数，可按字段路径取值
//   - StructParser：解析为结构体并校验，附带 JSON Schema 格式说明
package parser
