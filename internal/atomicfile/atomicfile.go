// Package atomicfile publishes files through a temp file in the target
// directory followed by fsync + rename, so readers of the target path only ever
// observe the previous complete version or the next complete version.
package atomicfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrTooLarge 表示输入超过 Options.MaxBytes，临时文件已被清理。
var ErrTooLarge = errors.New("content exceeds size limit")

// Options 控制一次原子写入。
type Options struct {
	// MaxBytes 为 0 表示不限制。
	MaxBytes int64
	// Perm 为最终文件权限，默认 0o644。
	Perm os.FileMode
	// Pattern 为临时文件名模式，默认 ".tmp-*"。
	Pattern string
}

// Write 将 body 流式写入与 path 同目录的临时文件，fsync 后 rename 覆盖 path。
// 任一环节失败都会删除临时文件，path 保持原样。
func Write(ctx context.Context, path string, body io.Reader, opts Options) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}

	pattern := opts.Pattern
	if pattern == "" {
		pattern = ".tmp-*"
	}
	tempFile, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return 0, err
	}
	tempName := tempFile.Name()

	src := body
	if opts.MaxBytes > 0 {
		src = io.LimitReader(body, opts.MaxBytes+1)
	}

	written, err := copyWithContext(ctx, tempFile, src)
	if err == nil && opts.MaxBytes > 0 && written > opts.MaxBytes {
		err = fmt.Errorf("%w: more than %d bytes", ErrTooLarge, opts.MaxBytes)
	}
	if err == nil {
		err = tempFile.Sync()
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil {
		perm := opts.Perm
		if perm == 0 {
			perm = 0o644
		}
		err = os.Chmod(tempName, perm)
	}
	if err != nil {
		os.Remove(tempName)
		return 0, err
	}

	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return 0, err
	}
	syncDir(dir)
	return written, nil
}

// syncDir 尽力持久化目录项，部分平台不支持对目录 fsync，忽略错误。
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
