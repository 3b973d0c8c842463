// Package prompt 提示词模板组件。
//
// 支持三种格式：FString（{var}）、GoTemplate（{{.var}}）与 Jinja2（{{var}}）。
// 缺失变量时返回 *schema.FormatError，其中 Variable 为缺失的变量名。
package prompt
