package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig 匹配所有字段级校验失败，调用方可用 errors.Is 区分配置错误与 I/O 错误。
var ErrInvalidConfig = errors.New("invalid configuration")

// FieldError 记录校验失败的配置项、原因以及可选的底层错误（例如 cron 解析错误）。
type FieldError struct {
	Field  string
	Reason string
	Cause  error
}

func (e FieldError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Field, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e FieldError) Unwrap() error { return e.Cause }

func (e FieldError) Is(target error) bool { return target == ErrInvalidConfig }

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

func wrapFieldError(field, reason string, cause error) error {
	return FieldError{Field: field, Reason: reason, Cause: cause}
}
