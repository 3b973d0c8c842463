package pipelines

import (
	"context"
	"errors"

	"github.com/favbox/eino-chains/internal/safe"
	"github.com/favbox/eino-chains/schema"
)

// 错误类别，供 HTTP 与 NATS 的错误响应使用。
const (
	KindNotFound  = "not_found"
	KindFormat    = "format"
	KindKey       = "key"
	KindParse     = "parse"
	KindTransport = "transport"
	KindTimeout   = "timeout"
	KindCanceled  = "canceled"
	KindPanic     = "panic"
	KindExecution = "execution"
)

// ErrorInfo 可序列化的错误描述。Stage、Key、Index 来自 ExecutionError。
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
	Key     string `json:"key,omitempty"`
	Index   *int   `json:"index,omitempty"`
}

func (e *ErrorInfo) Error() string {
	return e.Kind + ": " + e.Message
}

// ErrorKind 按错误链中最具体的类型归类。
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrPipelineNotFound):
		return KindNotFound
	case schema.IsFormatError(err):
		return KindFormat
	case schema.IsKeyError(err):
		return KindKey
	case schema.IsParseError(err):
		return KindParse
	case schema.IsTransportError(err):
		return KindTransport
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case safe.IsPanic(err):
		return KindPanic
	default:
		return KindExecution
	}
}

// DescribeError panic 的堆栈不对外暴露。
func DescribeError(err error) *ErrorInfo {
	info := &ErrorInfo{Kind: ErrorKind(err), Message: err.Error()}
	var ee *schema.ExecutionError
	if errors.As(err, &ee) {
		info.Stage = ee.Stage
		info.Key = ee.Key
		if ee.Index >= 0 {
			idx := ee.Index
			info.Index = &idx
		}
	}
	if info.Kind == KindPanic {
		info.Message = "internal error"
	}
	return info
}
