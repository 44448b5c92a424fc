package httpcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/resource-sync/resource-sync/internal/cache"
)

// ErrBodyTooLarge 表示待缓存的正文超过 Transport.MaxBodyBytes。
var ErrBodyTooLarge = errors.New("response body exceeds cache limit")

// Transport 在 Base 之上叠加私有 HTTP 缓存，存储介质为 cache.Store。
// 同一个 Store 只容纳一个条目，因此 Transport 适合反复请求同一资源的场景。
type Transport struct {
	Store cache.Store
	Base  http.RoundTripper
	// MaxBodyBytes 限制写入缓存的正文大小，0 表示不限制。
	MaxBodyBytes int64
	Logger       logrus.FieldLogger

	now func() time.Time
}

// NewTransport 构造缓存 transport；base 为空时使用 http.DefaultTransport。
func NewTransport(store cache.Store, base http.RoundTripper, logger logrus.FieldLogger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Transport{
		Store:  store,
		Base:   base,
		Logger: logger,
		now:    time.Now,
	}
}

// CacheKey 返回请求在 Store 中使用的键。
func CacheKey(req *http.Request) string {
	return req.URL.String()
}

// RoundTrip 实现 http.RoundTripper。
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Store == nil || !cacheableRequest(req) {
		resp, err := t.Base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		resp.Header.Set(StatusHeader, string(StatusBypass))
		return resp, nil
	}

	ctx := req.Context()
	key := CacheKey(req)
	cached := t.load(ctx, key)

	if cached != nil && cached.Fresh(t.now()) {
		return cached.Response(req, StatusHit), nil
	}

	outReq := req
	if cached != nil && cached.HasValidators() {
		outReq = req.Clone(ctx)
		if etag := cached.ETag(); etag != "" {
			outReq.Header.Set("If-None-Match", etag)
		}
		if lastModified := cached.LastModified(); lastModified != "" {
			outReq.Header.Set("If-Modified-Since", lastModified)
		}
	}

	requestTime := t.now()
	resp, err := t.Base.RoundTrip(outReq)
	if err != nil {
		return nil, err
	}
	responseTime := t.now()

	switch {
	case resp.StatusCode == http.StatusNotModified && cached != nil:
		drainAndClose(resp.Body)
		merged := t.revalidate(ctx, key, cached, resp.Header, requestTime, responseTime)
		return merged.Response(req, StatusValidated), nil
	case resp.StatusCode == http.StatusOK:
		return t.storeResponse(ctx, key, req, resp, requestTime, responseTime)
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		if cached != nil {
			if err := t.Store.Remove(ctx, key); err != nil {
				t.Logger.WithError(err).WithField("key", key).Warn("cache_remove_failed")
			}
		}
	}
	resp.Header.Set(StatusHeader, string(StatusMiss))
	return resp, nil
}

// load 读取并解码条目；缺失、损坏或读失败都视为未命中。
func (t *Transport) load(ctx context.Context, key string) *Entry {
	data, ok, err := t.Store.Get(ctx, key)
	if err != nil {
		t.Logger.WithError(err).WithField("key", key).Warn("cache_get_failed")
		return nil
	}
	if !ok {
		return nil
	}
	entry, err := DecodeEntry(data)
	if err != nil {
		t.Logger.WithError(err).WithField("key", key).Debug("cache_entry_unreadable")
		return nil
	}
	return entry
}

func (t *Transport) storeResponse(
	ctx context.Context,
	key string,
	req *http.Request,
	resp *http.Response,
	requestTime time.Time,
	responseTime time.Time,
) (*http.Response, error) {
	ok, expires := storable(req, resp, responseTime)
	if !ok {
		// 新响应不可缓存，旧条目的验证器已不再对应当前内容。
		if err := t.Store.Remove(ctx, key); err != nil {
			t.Logger.WithError(err).WithField("key", key).Warn("cache_remove_failed")
		}
		resp.Header.Set(StatusHeader, string(StatusMiss))
		return resp, nil
	}

	body, err := readLimited(resp.Body, t.MaxBodyBytes)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		StatusCode:   resp.StatusCode,
		Header:       resp.Header.Clone(),
		Body:         body,
		RequestTime:  requestTime,
		ResponseTime: responseTime,
		Expires:      expires,
	}
	entry.Header.Del(StatusHeader)
	for name := range hopByHopHeaders {
		entry.Header.Del(name)
	}

	data, err := entry.MarshalBinary()
	if err == nil {
		// 编码结果以正文结尾，改为引用它，读缓冲不再被持有。
		entry.Body = data[len(data)-len(body):]
		err = t.Store.Put(ctx, key, data)
	}
	if err != nil {
		t.Logger.WithError(err).WithField("key", key).Warn("cache_put_failed")
	}
	return entry.Response(req, StatusMiss), nil
}

// revalidate 将 304 合并进存储条目；写回失败时仍返回合并结果以便本次请求继续。
func (t *Transport) revalidate(
	ctx context.Context,
	key string,
	cached *Entry,
	update http.Header,
	requestTime time.Time,
	responseTime time.Time,
) *Entry {
	var merged *Entry
	err := t.Store.Update(ctx, key, func(current []byte) []byte {
		base := cached
		if current != nil {
			if decoded, err := DecodeEntry(current); err == nil {
				base = decoded
			}
		}
		merged = mergeEntry(base, update, requestTime, responseTime)
		data, err := merged.MarshalBinary()
		if err != nil {
			return current
		}
		return data
	})
	if merged == nil {
		merged = mergeEntry(cached, update, requestTime, responseTime)
	}
	if err != nil {
		t.Logger.WithError(err).WithField("key", key).Warn("cache_update_failed")
	}
	return merged
}

func mergeEntry(base *Entry, update http.Header, requestTime, responseTime time.Time) *Entry {
	header := mergeNotModified(base.Header, update)
	return &Entry{
		StatusCode:   base.StatusCode,
		Header:       header,
		Body:         base.Body,
		RequestTime:  requestTime,
		ResponseTime: responseTime,
		Expires:      explicitExpiry(header, responseTime),
	}
}

func cacheableRequest(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return false
	}
	if req.Header.Get("Range") != "" {
		return false
	}
	return req.URL != nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}
	return body, nil
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64*1024))
	body.Close()
}
