// Package schedule drives periodic pack refreshes with a cron expression.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/resource-sync/resource-sync/internal/fetch"
)

// Refresher 由 *refresh.Coordinator 实现。
type Refresher interface {
	Refresh(ctx context.Context) (*fetch.Result, error)
}

// Scheduler 按 RefreshSchedule 周期性触发刷新，失败只记录日志。
type Scheduler struct {
	cron      *cron.Cron
	entry     cron.EntryID
	spec      string
	refresher Refresher
	logger    logrus.FieldLogger

	// startup 跟踪 Start 触发的首次刷新，它不经过 cron，Stop 需要单独等待。
	startup sync.WaitGroup
}

// New 解析 spec（标准 5 段或 @every/@hourly 等描述符）并注册任务，不会立即启动。
func New(spec string, refresher Refresher, logger logrus.FieldLogger) (*Scheduler, error) {
	if refresher == nil {
		return nil, errors.New("schedule: refresher required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	cronLogger := cron.PrintfLogger(logger)
	s := &Scheduler{
		spec:      spec,
		refresher: refresher,
		logger:    logger,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}

	id, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return nil, fmt.Errorf("parse refresh schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

// Start 在后台立即执行一次刷新，随后按计划运行。
func (s *Scheduler) Start() {
	s.startup.Add(1)
	go func() {
		defer s.startup.Done()
		s.tick()
	}()
	s.cron.Start()
	s.logger.WithFields(logrus.Fields{
		"schedule": s.spec,
		"next":     s.Next().Format(time.RFC3339),
	}).Info("refresh_scheduler_started")
}

// Stop 停止调度并返回一个 context，它在计划任务与启动时的首次刷新都结束后关闭。
func (s *Scheduler) Stop() context.Context {
	cronDone := s.cron.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronDone.Done()
		s.startup.Wait()
		cancel()
	}()
	return ctx
}

// Next 返回下一次计划执行时间；调度未启动时为零值。
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) tick() {
	start := time.Now()
	res, err := s.refresher.Refresh(context.Background())
	fields := logrus.Fields{"elapsed_ms": time.Since(start).Milliseconds()}
	if err != nil {
		// 协调器已经记录了失败详情，这里只留调度视角的摘要。
		s.logger.WithFields(fields).WithError(err).Debug("scheduled_refresh_failed")
		return
	}
	fields["cache_status"] = string(res.CacheStatus)
	s.logger.WithFields(fields).Debug("scheduled_refresh_done")
}
