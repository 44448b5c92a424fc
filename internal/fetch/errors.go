package fetch

import (
	"errors"
	"fmt"
)

// Kind 对刷新失败进行分类，供日志与调用方决策。
type Kind string

const (
	// KindConfig 表示资源地址缺失或格式错误，未发生任何网络 I/O。
	KindConfig Kind = "config"
	// KindNetwork 表示连接、协议或上游状态码错误。
	KindNetwork Kind = "network"
	// KindIO 表示本地临时文件或 rename 失败。
	KindIO Kind = "io"
)

// ErrUnexpectedStatus 表示经过缓存层处理后仍不是 200。
var ErrUnexpectedStatus = errors.New("unexpected response status")

// Error 是 Fetcher 对外暴露的唯一错误类型。
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error during %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf 返回 err 链上第一个 *Error 的分类，非 Fetcher 错误返回空字符串。
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
