package httpcache

import "net/http"

// StatusHeader 标记响应的缓存来源。
const StatusHeader = "X-Cache-Status"

// Status 描述一次请求是如何被满足的。
type Status string

const (
	// StatusHit 条目在显式新鲜期内，未访问上游。
	StatusHit Status = "HIT"
	// StatusMiss 由上游完整返回。
	StatusMiss Status = "MISS"
	// StatusValidated 上游返回 304，复用存储的正文。
	StatusValidated Status = "VALIDATED"
	// StatusBypass 请求不可缓存，直接透传。
	StatusBypass Status = "BYPASS"
)

// StatusOf 读取 transport 写入的缓存状态；非本包产生的响应返回空字符串。
func StatusOf(resp *http.Response) Status {
	if resp == nil {
		return ""
	}
	return Status(resp.Header.Get(StatusHeader))
}
