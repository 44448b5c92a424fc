// Package fetch performs one conditional download of the pack and publishes
// it atomically. The HTTP client handed to a Fetcher is expected to carry the
// httpcache transport, so validators, 304 handling and the single-slot cache
// are invisible here: a Fetcher only sees a final 200 body, streams it into a
// temp file next to the destination and renames it into place.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/resource-sync/resource-sync/internal/atomicfile"
	"github.com/resource-sync/resource-sync/internal/httpcache"
	"github.com/resource-sync/resource-sync/internal/version"
)

// Options 描述一次下载任务；URL 在 New 时校验并固定下来。
type Options struct {
	URL         string
	Destination string
	Client      *http.Client
	// MaxBytes 为 0 表示不限制发布文件大小。
	MaxBytes int64
	Logger   logrus.FieldLogger
}

// Result 汇总一次成功下载。
type Result struct {
	URL         string
	Path        string
	Bytes       int64
	StatusCode  int
	CacheStatus httpcache.Status
	Duration    time.Duration
	FinishedAt  time.Time
}

// Fetcher 执行单次 GET + 原子发布，不做重试。
type Fetcher struct {
	source   *url.URL
	dst      string
	client   *http.Client
	maxBytes int64
	logger   logrus.FieldLogger
}

// New 校验配置；URL 非法时返回 KindConfig 错误且不触发任何 I/O。
func New(opts Options) (*Fetcher, error) {
	source, err := parseSourceURL(opts.URL)
	if err != nil {
		return nil, newError(KindConfig, "parse pack url", err)
	}
	if opts.Destination == "" {
		return nil, newError(KindConfig, "resolve destination", errors.New("destination path required"))
	}
	dst, err := filepath.Abs(opts.Destination)
	if err != nil {
		return nil, newError(KindConfig, "resolve destination", err)
	}

	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Fetcher{
		source:   source,
		dst:      dst,
		client:   client,
		maxBytes: opts.MaxBytes,
		logger:   logger,
	}, nil
}

// URL 返回本次任务使用的资源地址。
func (f *Fetcher) URL() string {
	return f.source.String()
}

// Run 下载并发布资源包；失败时目标文件保持原状，临时文件已清理。
func (f *Fetcher) Run(ctx context.Context) (*Result, error) {
	started := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.source.String(), nil)
	if err != nil {
		return nil, newError(KindConfig, "build request", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	f.logRequest(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, newError(KindNetwork, "request", err)
	}
	defer resp.Body.Close()
	f.logResponse(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, newError(KindNetwork, "check status", fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status))
	}

	body := &trackedReader{r: resp.Body}
	written, err := atomicfile.Write(ctx, f.dst, body, atomicfile.Options{
		MaxBytes: f.maxBytes,
		Pattern:  ".synced-pack-*.zip",
	})
	if err != nil {
		if body.err != nil {
			return nil, newError(KindNetwork, "read body", err)
		}
		return nil, newError(KindIO, "publish", err)
	}

	finished := time.Now()
	return &Result{
		URL:         f.source.String(),
		Path:        f.dst,
		Bytes:       written,
		StatusCode:  resp.StatusCode,
		CacheStatus: httpcache.StatusOf(resp),
		Duration:    finished.Sub(started),
		FinishedAt:  finished,
	}, nil
}

func (f *Fetcher) logRequest(req *http.Request) {
	if !debugEnabled(f.logger) {
		return
	}
	f.logger.WithFields(logrus.Fields{
		"direction": ">>",
		"request":   req.Method + " " + req.URL.String(),
		"headers":   flattenHeaders(req.Header),
	}).Debug("upstream_request")
}

func (f *Fetcher) logResponse(resp *http.Response) {
	if !debugEnabled(f.logger) {
		return
	}
	f.logger.WithFields(logrus.Fields{
		"direction":    "<<",
		"status":       resp.Status,
		"headers":      flattenHeaders(resp.Header),
		"cache_status": string(httpcache.StatusOf(resp)),
	}).Debug("upstream_response")
}

// trackedReader 记录上游正文读取错误，以区分网络失败与本地写失败。
type trackedReader struct {
	r   io.Reader
	err error
}

func (t *trackedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		t.err = err
	}
	return n, err
}

func parseSourceURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("pack url is empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("only http/https is supported: %s", raw)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("pack url has no host: %s", raw)
	}
	return parsed, nil
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, values := range h {
		out[key] = strings.Join(values, ", ")
	}
	return out
}

func debugEnabled(logger logrus.FieldLogger) bool {
	switch l := logger.(type) {
	case *logrus.Logger:
		return l.IsLevelEnabled(logrus.DebugLevel)
	case *logrus.Entry:
		return l.Logger.IsLevelEnabled(logrus.DebugLevel)
	default:
		return true
	}
}
