package safe

import (
	"errors"
	"fmt"
)

// PanicError 由 recover 得到的 panic 值及其堆栈。
type PanicError struct {
	Info  any
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v\nstack: %s", p.Info, p.Stack)
}

func NewPanicErr(info any, stack []byte) error {
	return &PanicError{Info: info, Stack: stack}
}

// IsPanic 判断错误链中是否包含 PanicError。
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}
