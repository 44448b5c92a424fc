package server

import (
	"net"
	"net/http"
	"time"

	"github.com/resource-sync/resource-sync/internal/config"
)

// defaultFetchTimeout 在配置缺失时兜底，保证挂起的上游不会卡住刷新任务。
// 它约束等待响应头的时长以及正文两次读取之间的空闲时长，不限制整次下载。
const defaultFetchTimeout = 30 * time.Second

// Shared HTTP transport tunings，集中配置连接、TLS 与响应头超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          4,
	MaxIdleConnsPerHost:   2,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewUpstreamTransport 返回基础 transport：ResponseHeaderTimeout 跟随 FetchTimeout，
// 正文在 FetchTimeout 内没有任何进展时中止。调用方通常再用 httpcache.Transport 包一层。
func NewUpstreamTransport(cfg *config.Config) http.RoundTripper {
	timeout := fetchTimeout(cfg)
	transport := defaultTransport.Clone()
	transport.ResponseHeaderTimeout = timeout
	return &idleTimeoutTransport{base: transport, idle: timeout}
}

// NewUpstreamClient 返回请求资源包使用的 http.Client；rt 为空时使用 NewUpstreamTransport。
// 不设置 Client.Timeout：稳定传输的大包可以超过 FetchTimeout，挂起由 transport 负责中止。
func NewUpstreamClient(cfg *config.Config, rt http.RoundTripper) *http.Client {
	if rt == nil {
		rt = NewUpstreamTransport(cfg)
	}
	return &http.Client{Transport: rt}
}

func fetchTimeout(cfg *config.Config) time.Duration {
	if cfg != nil && cfg.Global.FetchTimeout.DurationValue() > 0 {
		return cfg.Global.FetchTimeout.DurationValue()
	}
	return defaultFetchTimeout
}
