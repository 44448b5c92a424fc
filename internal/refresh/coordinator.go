// Package refresh serializes pack downloads behind a single-flight group:
// concurrent callers share the task that is currently running, and a new task
// starts only after the previous one has settled. A running task is never
// pre-empted, and its outcome is delivered only to the callers that joined it.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/resource-sync/resource-sync/internal/fetch"
	"github.com/resource-sync/resource-sync/internal/logging"
	"github.com/resource-sync/resource-sync/internal/metrics"
)

// flightKey 全局只有一个刷新目标，因此 singleflight 固定使用同一个 key。
const flightKey = "pack"

// ErrNoFactory 表示未配置 Runner 工厂。
var ErrNoFactory = errors.New("refresh: runner factory required")

// Runner 执行一次下载任务，通常是 *fetch.Fetcher。
type Runner interface {
	URL() string
	Run(ctx context.Context) (*fetch.Result, error)
}

// Factory 在每个任务开始时调用一次，使最新的 PackURL 只在任务创建时读取。
type Factory func() (Runner, error)

// Outcome 是最近一次已结束任务的快照。
type Outcome struct {
	TaskID   string
	PackURL  string
	Started  time.Time
	Finished time.Time
	Result   *fetch.Result
	Err      error
}

// Succeeded 报告该任务是否成功发布。
func (o Outcome) Succeeded() bool {
	return o.TaskID != "" && o.Err == nil
}

// Options 构造 Coordinator 所需依赖。
type Options struct {
	Factory Factory
	Logger  logrus.FieldLogger
	Metrics *metrics.Collector
}

// Coordinator 保证任意时刻最多一个 Runner 在执行。
type Coordinator struct {
	group   singleflight.Group
	factory Factory
	logger  logrus.FieldLogger
	metrics *metrics.Collector

	runs    atomic.Int64
	running atomic.Bool

	mu   sync.RWMutex
	last Outcome
}

// New 创建协调器。
func New(opts Options) (*Coordinator, error) {
	if opts.Factory == nil {
		return nil, ErrNoFactory
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Coordinator{
		factory: opts.Factory,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Refresh 加入正在运行的任务或启动新任务，并等待其结束。
// ctx 只约束等待本身；任务在后台继续执行，结果留给其它等待者。
func (c *Coordinator) Refresh(ctx context.Context) (*fetch.Result, error) {
	ch := c.group.DoChan(flightKey, c.run)
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*fetch.Result), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Trigger 启动或加入任务但不等待，供定时调度使用。
func (c *Coordinator) Trigger() {
	// DoChan 的结果通道带缓冲，丢弃它不会阻塞任务。
	c.group.DoChan(flightKey, c.run)
}

// Last 返回最近一次结束任务的快照；尚未有任务结束时 TaskID 为空。
func (c *Coordinator) Last() Outcome {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Runs 返回已启动的任务数。
func (c *Coordinator) Runs() int64 {
	return c.runs.Load()
}

// Running 报告当前是否有任务在执行。
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

func (c *Coordinator) run() (val any, err error) {
	c.runs.Add(1)
	c.running.Store(true)
	defer c.running.Store(false)

	outcome := Outcome{
		TaskID:  ksuid.New().String(),
		Started: time.Now(),
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh task panic: %v", r)
			val = nil
		}
		outcome.Err = err
		outcome.Finished = time.Now()
		c.settle(outcome)
	}()

	runner, err := c.factory()
	if err != nil {
		return nil, err
	}
	outcome.PackURL = runner.URL()
	c.logger.WithFields(logging.TaskFields(outcome.TaskID, outcome.PackURL)).Debug("refresh_started")

	// 任务与发起者解耦，超时由 HTTP 客户端负责。
	result, err := runner.Run(context.Background())
	if err != nil {
		return nil, err
	}
	outcome.Result = result
	return result, nil
}

func (c *Coordinator) settle(outcome Outcome) {
	c.mu.Lock()
	c.last = outcome
	c.mu.Unlock()

	elapsed := outcome.Finished.Sub(outcome.Started)
	c.metrics.ObserveRefresh(outcome.Err, elapsed)

	entry := c.logger.WithFields(logging.TaskFields(outcome.TaskID, outcome.PackURL))
	if outcome.Err != nil {
		entry.WithError(outcome.Err).
			WithField("kind", string(fetch.KindOf(outcome.Err))).
			WithField("elapsed_ms", elapsed.Milliseconds()).
			Warn("refresh_failed")
		return
	}

	res := outcome.Result
	c.metrics.ObservePublish(string(res.CacheStatus), res.Bytes, outcome.Finished)
	entry.WithFields(logging.ResultFields(string(res.CacheStatus), res.Bytes, elapsed)).Info("refresh_completed")
}
