// Package pack hands the published archive to consumers. Before returning the
// path it waits, bounded, for the refresh coordinator's current or next task,
// and falls back to the previous publication when that task fails.
package pack

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/resource-sync/resource-sync/internal/fetch"
	"github.com/resource-sync/resource-sync/internal/metrics"
)

// ErrUnavailable 表示刷新失败且从未成功发布过资源包。
var ErrUnavailable = errors.New("pack unavailable")

// Refresher 由 *refresh.Coordinator 实现。
type Refresher interface {
	Refresh(ctx context.Context) (*fetch.Result, error)
}

// Publication 描述交给消费方的文件。
type Publication struct {
	Path string
	// Stale 为 true 表示本次刷新失败，Path 指向上一次成功发布的版本。
	Stale      bool
	RefreshErr error
	Result     *fetch.Result
}

// Options 配置 Reader。
type Options struct {
	Path      string
	Refresher Refresher
	// WaitTimeout 限制等待刷新的时长，0 表示只受调用方 ctx 约束。
	WaitTimeout time.Duration
	Logger      logrus.FieldLogger
	Metrics     *metrics.Collector
}

// Reader 可被任意多个 goroutine 并发调用。
type Reader struct {
	path        string
	refresher   Refresher
	waitTimeout time.Duration
	logger      logrus.FieldLogger
	metrics     *metrics.Collector
}

// New 创建 Reader。
func New(opts Options) (*Reader, error) {
	if opts.Path == "" {
		return nil, errors.New("pack: destination path required")
	}
	if opts.Refresher == nil {
		return nil, errors.New("pack: refresher required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reader{
		path:        opts.Path,
		refresher:   opts.Refresher,
		waitTimeout: opts.WaitTimeout,
		logger:      logger,
		metrics:     opts.Metrics,
	}, nil
}

// Path 返回发布路径，不触发刷新。
func (r *Reader) Path() string {
	return r.path
}

// EnsureLatest 等待当前或新启动的刷新任务结束后返回发布路径。
// 刷新失败但旧文件存在时降级返回旧文件；都不存在时返回 ErrUnavailable。
func (r *Reader) EnsureLatest(ctx context.Context) (Publication, error) {
	waitCtx := ctx
	if r.waitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, r.waitTimeout)
		defer cancel()
	}

	result, err := r.refresher.Refresh(waitCtx)
	if err == nil {
		return Publication{Path: r.path, Result: result}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Publication{}, ctxErr
	}

	if !published(r.path) {
		return Publication{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	r.logger.WithError(err).WithFields(logrus.Fields{
		"path": r.path,
		"kind": string(fetch.KindOf(err)),
	}).Warn("pack_degraded_using_previous")
	r.metrics.ObserveStale()
	return Publication{Path: r.path, Stale: true, RefreshErr: err}, nil
}

// Open 在 EnsureLatest 之后打开发布文件，调用方负责关闭。
func (r *Reader) Open(ctx context.Context) (*os.File, Publication, error) {
	pub, err := r.EnsureLatest(ctx)
	if err != nil {
		return nil, pub, err
	}
	file, err := os.Open(pub.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, pub, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return nil, pub, err
	}
	return file, pub, nil
}

func published(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
