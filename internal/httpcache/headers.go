package httpcache

import (
	"net/http"
	"net/textproto"
)

// hopByHopHeaders 定义 RFC 7230 中不属于端到端语义的头部，304 合并时需跳过。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {},
}

// notModifiedSkip 是 304 中不应覆盖存储条目的表示层头部。
var notModifiedSkip = map[string]struct{}{
	"Content-Length":   {},
	"Content-Encoding": {},
	"Content-Range":    {},
	"Content-Type":     {},
	StatusHeader:       {},
}

// mergeNotModified 用 304 的端到端头刷新存储头（RFC 7234 §4.3.4），返回新的 Header。
func mergeNotModified(stored, update http.Header) http.Header {
	merged := stored.Clone()
	if merged == nil {
		merged = http.Header{}
	}
	for key, values := range update {
		canonical := textproto.CanonicalMIMEHeaderKey(key)
		if _, skip := hopByHopHeaders[canonical]; skip {
			continue
		}
		if _, skip := notModifiedSkip[canonical]; skip {
			continue
		}
		merged[canonical] = append([]string(nil), values...)
	}
	return merged
}
