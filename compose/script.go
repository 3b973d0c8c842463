package compose

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// ScriptLambda 以 JavaScript 表达式重组数据：输入映射以全局变量 input 提供，脚本最后一个表达式的值即输出。
// 适用于在配置中声明、而非在代码中编写的数据重组。
//
//	l, err := compose.ScriptLambda(`({question: input.query, lang: input.lang || "en"})`)
//
// 脚本只编译一次，每次调用使用独立的运行时；ctx 结束时中断执行。
func ScriptLambda(src string, opts ...LambdaOpt) (*Lambda, error) {
	prog, err := goja.Compile("script", src, true)
	if err != nil {
		return nil, fmt.Errorf("compile script: %w", err)
	}

	i := func(ctx context.Context, in map[string]any, _ ...unreachableOption) (any, error) {
		vm := goja.New()
		vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
		if err := vm.Set("input", in); err != nil {
			return nil, fmt.Errorf("set script input: %w", err)
		}

		stop := context.AfterFunc(ctx, func() {
			vm.Interrupt(ctx.Err())
		})
		defer stop()

		v, err := vm.RunProgram(prog)
		if err != nil {
			var ie *goja.InterruptedError
			if errors.As(err, &ie) {
				if cause, ok := ie.Value().(error); ok {
					return nil, cause
				}
			}
			return nil, fmt.Errorf("run script: %w", err)
		}
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			return nil, nil
		}
		return v.Export(), nil
	}

	l := anyLambda(i, nil, nil, nil, opts...)
	if l.executor.meta.componentImplType == "" {
		l.executor.meta.componentImplType = "Script"
	}
	return l, nil
}
