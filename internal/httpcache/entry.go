package httpcache

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// 内部元数据以扩展头形式随条目一起落盘，解码后会被移除。
const (
	requestTimeHeader  = "X-Resource-Sync-Request-Time"
	responseTimeHeader = "X-Resource-Sync-Response-Time"
	expiresHeader      = "X-Resource-Sync-Expires"
)

var errEntryFormat = errors.New("cache entry format mismatch")

var headerTerminator = []byte("\r\n\r\n")

// Entry 是一次可复用的上游响应：状态、头（含 ETag/Last-Modified）、正文与时间戳。
type Entry struct {
	StatusCode   int
	Header       http.Header
	Body         []byte
	RequestTime  time.Time
	ResponseTime time.Time
	// Expires 为显式新鲜度截止时间，零值表示每次都需要再验证。
	Expires time.Time
}

// ETag 返回存储的实体标签。
func (e *Entry) ETag() string {
	return e.Header.Get("ETag")
}

// LastModified 返回存储的 Last-Modified 原始值。
func (e *Entry) LastModified() string {
	return e.Header.Get("Last-Modified")
}

// HasValidators 表示条目能否发起条件请求。
func (e *Entry) HasValidators() bool {
	return e.ETag() != "" || e.LastModified() != ""
}

// Fresh 判断条目在 now 时刻是否仍可不经验证直接复用。
func (e *Entry) Fresh(now time.Time) bool {
	return !e.Expires.IsZero() && now.Before(e.Expires)
}

// MarshalBinary 以 HTTP/1.1 响应报文格式编码条目。
func (e *Entry) MarshalBinary() ([]byte, error) {
	header := e.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(requestTimeHeader, e.RequestTime.UTC().Format(time.RFC3339Nano))
	header.Set(responseTimeHeader, e.ResponseTime.UTC().Format(time.RFC3339Nano))
	if !e.Expires.IsZero() {
		header.Set(expiresHeader, e.Expires.UTC().Format(time.RFC3339Nano))
	}

	resp := &http.Response{
		StatusCode:    e.StatusCode,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
	}
	var buf bytes.Buffer
	buf.Grow(len(e.Body) + 512)
	if err := resp.Write(&buf); err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeEntry 是 MarshalBinary 的逆过程；任何解析失败都返回 errEntryFormat。
// 返回条目的 Body 直接引用 data 的尾部，不做拷贝。
func DecodeEntry(data []byte) (*Entry, error) {
	end := bytes.Index(data, headerTerminator)
	if end < 0 {
		return nil, errEntryFormat
	}
	end += len(headerTerminator)

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(data[:end])), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errEntryFormat, err)
	}
	body := data[end:]
	if resp.ContentLength >= 0 && int64(len(body)) != resp.ContentLength {
		return nil, errEntryFormat
	}

	header := resp.Header
	entry := &Entry{
		StatusCode: resp.StatusCode,
		Body:       body,
	}
	if entry.RequestTime, err = parseStamp(header.Get(requestTimeHeader)); err != nil {
		return nil, err
	}
	if entry.ResponseTime, err = parseStamp(header.Get(responseTimeHeader)); err != nil {
		return nil, err
	}
	if raw := header.Get(expiresHeader); raw != "" {
		if entry.Expires, err = parseStamp(raw); err != nil {
			return nil, err
		}
	}
	header.Del(requestTimeHeader)
	header.Del(responseTimeHeader)
	header.Del(expiresHeader)
	header.Del("Content-Length")
	entry.Header = header
	return entry, nil
}

// Response 将条目还原为一个可供调用方消费的 *http.Response。
func (e *Entry) Response(req *http.Request, status Status) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(e.Body)))
	header.Set(StatusHeader, string(status))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode)),
		StatusCode:    e.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

func parseStamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errEntryFormat
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", errEntryFormat, err)
	}
	return parsed, nil
}
