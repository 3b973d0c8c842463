/*
 * compose 包 - 流水线编排
 *
 * 概述：
 *   把提示模板、模型、检索器、解析器以及普通函数组合为一次构建、多次执行的流水线。
 *
 * 编排方式：
 *
 *   1. Chain / Sequence（顺序）
 *      - 阶段依次执行，上一阶段的输出是下一阶段的唯一输入
 *      - Compile 时检查相邻阶段的类型
 *      - 任一阶段失败立即返回，后续阶段不执行
 *
 *   2. Parallel（并行映射）
 *      - 各分支以同一输入并发执行，输出 map[string]any{key: 分支输出}
 *      - 任一分支失败则整体失败，错误中的 Key 为失败分支
 *
 *   3. 结构适配
 *      - Passthrough：原样输出
 *      - Projection / ProjectionOf：取映射中的某个键
 *      - ToMap：把单个值包装为映射
 *      - Pick：取映射的子集
 *      - Assign：在输入映射上追加并行映射的输出
 *      - ScriptLambda：用 JavaScript 表达式重组数据
 *
 * 执行范式：
 *   Invoke（值 => 值）、Stream（值 => 流）、Collect（流 => 值）、Transform（流 => 流），
 *   另有 Batch 并发执行多个输入。阶段只需实现其中之一，其余自动推导。
 *
 * 快速开始：
 *
 *      r, err := compose.NewChain[map[string]any, string]().
 *        AppendChatTemplate(prompt.FromTemplate("tell me a joke about {topic}")).
 *        AppendChatModel(cm).
 *        AppendStage(compose.Parser[string](parser.StrParser{})).
 *        Compile(ctx)
 *
 *      joke, err := r.Invoke(ctx, map[string]any{"topic": "bears"})
 *
 *      sr, err := r.Stream(ctx, map[string]any{"topic": "bears"})
 *      defer sr.Close()
 *
 * 错误：
 *   阶段错误统一包装为 *schema.ExecutionError（Stage 为阶段名，Key 为并行分支，Index 为批量下标），
 *   原始错误（FormatError、ParseError、TransportError、KeyError）可通过 errors.As 取出。
 *   阶段中的 panic 同样转为 ExecutionError，原因中带有堆栈。
 */

package compose
