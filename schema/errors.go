package schema

import (
	"errors"
	"fmt"
	"strings"
)

// FormatError 模板格式化失败：缺失变量或模板语法错误。
type FormatError struct {
	// Variable 缺失的变量名，语法错误时为空。
	Variable string
	Err      error
}

func (e *FormatError) Error() string {
	if e.Variable != "" {
		return fmt.Sprintf("[FormatError] missing template variable %q", e.Variable)
	}
	return fmt.Sprintf("[FormatError] %v", e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// TransportError 模型、检索器或向量库的网络/鉴权失败。
// 组合层不会对其重试，重试策略由具体客户端负责。
type TransportError struct {
	// Op 出错的操作，如 "chat.completions"、"embeddings"。
	Op string
	// StatusCode HTTP 状态码，非 HTTP 错误时为 0。
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	var sb strings.Builder
	sb.WriteString("[TransportError] ")
	sb.WriteString(e.Op)
	if e.StatusCode != 0 {
		sb.WriteString(fmt.Sprintf(" (status %d)", e.StatusCode))
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ParseError 模型输出与期望结构不符。
type ParseError struct {
	// Parser 解析器名称。
	Parser string
	// Raw 原始输出，便于排查。
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("[ParseError] parser=%s: %v", e.Parser, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// KeyError 映射中找不到指定的键。
type KeyError struct {
	Key string
	Err error
}

func (e *KeyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[KeyError] key %q: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("[KeyError] key %q not found", e.Key)
}

func (e *KeyError) Unwrap() error {
	return e.Err
}

// ExecutionError 阶段执行失败。
// Stage 为失败阶段的名称；Key 仅在并行分支失败时设置；Index 仅在批量执行时有效（否则为 -1）。
type ExecutionError struct {
	Stage string
	Key   string
	Index int
	Err   error
}

// NewExecutionError 包装阶段错误。
func NewExecutionError(stage string, err error) *ExecutionError {
	return &ExecutionError{Stage: stage, Index: -1, Err: err}
}

func (e *ExecutionError) Error() string {
	var sb strings.Builder
	sb.WriteString("[ExecutionError]")
	if e.Stage != "" {
		sb.WriteString(" stage=")
		sb.WriteString(e.Stage)
	}
	if e.Key != "" {
		sb.WriteString(" key=")
		sb.WriteString(e.Key)
	}
	if e.Index >= 0 {
		sb.WriteString(fmt.Sprintf(" index=%d", e.Index))
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsFormatError 判断错误链中是否包含 FormatError。
func IsFormatError(err error) bool {
	var e *FormatError
	return errors.As(err, &e)
}

// IsTransportError 判断错误链中是否包含 TransportError。
func IsTransportError(err error) bool {
	var e *TransportError
	return errors.As(err, &e)
}

// IsParseError 判断错误链中是否包含 ParseError。
func IsParseError(err error) bool {
	var e *ParseError
	return errors.As(err, &e)
}

// IsKeyError 判断错误链中是否包含 KeyError。
func IsKeyError(err error) bool {
	var e *KeyError
	return errors.As(err, &e)
}

// IsExecutionError 判断错误链中是否包含 ExecutionError。
func IsExecutionError(err error) bool {
	var e *ExecutionError
	return errors.As(err, &e)
}
