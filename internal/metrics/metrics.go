// Package metrics exposes refresh and publication counters through a private
// Prometheus registry. A nil *Collector is valid and records nothing, so
// components can take one unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "resource_sync"

// Collector 汇总刷新任务相关的指标。
type Collector struct {
	registry *prometheus.Registry

	refreshTotal   *prometheus.CounterVec
	cacheStatus    *prometheus.CounterVec
	staleServes    prometheus.Counter
	publishedBytes prometheus.Gauge
	lastSuccess    prometheus.Gauge
	refreshSeconds prometheus.Histogram
}

// New 创建独立 registry，附带 Go runtime 与进程指标。
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Settled refresh tasks by result.",
		}, []string{"result"}),
		cacheStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_status_total",
			Help:      "Successful downloads by HTTP cache status.",
		}, []string{"status"}),
		staleServes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_serves_total",
			Help:      "Publications handed out after a failed refresh.",
		}),
		publishedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "published_bytes",
			Help:      "Size of the last published pack.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful refresh.",
		}),
		refreshSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Wall time of refresh tasks.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
	c.registry.MustRegister(
		c.refreshTotal,
		c.cacheStatus,
		c.staleServes,
		c.publishedBytes,
		c.lastSuccess,
		c.refreshSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveRefresh 记录一次已结束的刷新任务。
func (c *Collector) ObserveRefresh(err error, elapsed time.Duration) {
	if c == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.refreshTotal.WithLabelValues(result).Inc()
	c.refreshSeconds.Observe(elapsed.Seconds())
}

// ObservePublish 记录一次成功发布。
func (c *Collector) ObservePublish(cacheStatus string, size int64, at time.Time) {
	if c == nil {
		return
	}
	if cacheStatus == "" {
		cacheStatus = "unknown"
	}
	c.cacheStatus.WithLabelValues(cacheStatus).Inc()
	c.publishedBytes.Set(float64(size))
	c.lastSuccess.Set(float64(at.Unix()))
}

// ObserveStale 记录一次降级使用旧文件。
func (c *Collector) ObserveStale() {
	if c == nil {
		return
	}
	c.staleServes.Inc()
}

// Registry 返回底层 registry，测试可直接 Gather。
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler 返回 Prometheus 文本格式的 http.Handler。
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
