package compose

import (
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"

	"github.com/favbox/eino-chains/internal/safe"
	"github.com/favbox/eino-chains/schema"
)

var (
	// ErrEmptyChain 链中没有任何阶段。
	ErrEmptyChain = errors.New("chain has no stages")
	// ErrChainCompiled 链编译后不可再修改。
	ErrChainCompiled = errors.New("chain has been compiled, it's not allowed to modify")
	// ErrChainTypeMismatch 相邻阶段的输出与输入类型不兼容。
	ErrChainTypeMismatch = errors.New("chain stage type mismatch")
	// ErrEmptyParallel 并行映射中没有任何分支。
	ErrEmptyParallel = errors.New("parallel has no branches")
	// ErrDuplicateKey 并行映射中出现重复的键。
	ErrDuplicateKey = errors.New("duplicate parallel key")

	errNilRunnable = errors.New("runnable is nil")
)

func newUnexpectedInputTypeErr(expected reflect.Type, got reflect.Type) error {
	return fmt.Errorf("unexpected input type. expected: %v, got: %v", expected, got)
}

func newTypeMismatchErr(from, to string, out, in reflect.Type) error {
	return fmt.Errorf("%w: output of %s is %v, input of %s is %v", ErrChainTypeMismatch, from, out, to, in)
}

// wrapStageError 将阶段错误包装为 ExecutionError。已是 ExecutionError 的错误原样返回，
// 使最内层失败阶段的名称得以保留。
func wrapStageError(stage string, err error) error {
	if err == nil {
		return nil
	}
	var ee *schema.ExecutionError
	if errors.As(err, &ee) {
		return err
	}
	return schema.NewExecutionError(stage, err)
}

// wrapBranchError 为并行分支错误标注键。嵌套并行时键按外层到内层以 "." 连接，如 outer.inner。
func wrapBranchError(stage, key string, err error) error {
	if err == nil {
		return nil
	}
	return annotate(stage, err, func(e *schema.ExecutionError) {
		if e.Key != "" {
			e.Key = key + "." + e.Key
		} else {
			e.Key = key
		}
	})
}

// withBatchIndex 为批量执行中第 index 个输入的错误标注下标。
func withBatchIndex(name string, index int, err error) error {
	return annotate(name, err, func(e *schema.ExecutionError) { e.Index = index })
}

// annotate 在错误链中最近的 ExecutionError 的副本上修改标注，没有则新建。
// 副本之外若还有其他包装层，副本改为包住整个 err，使这些层仍在错误链上。
func annotate(stage string, err error, set func(*schema.ExecutionError)) error {
	var ee *schema.ExecutionError
	if !errors.As(err, &ee) {
		e := schema.NewExecutionError(stage, err)
		set(e)
		return e
	}
	cp := *ee
	if err != error(ee) {
		cp.Err = err
	}
	set(&cp)
	return &cp
}

// recoverAsError 在 defer 中调用，把 panic 转为带堆栈的错误。
func recoverAsError(err *error) {
	if p := recover(); p != nil {
		*err = safe.NewPanicErr(p, debug.Stack())
	}
}
