package httpcache

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/cachecontrol"
	"github.com/pquerna/cachecontrol/cacheobject"
)

// storable 判断响应是否允许写入私有缓存，并计算显式过期时间。
// 只认 max-age / Expires，不做启发式新鲜度，保证没有显式新鲜期的资源每次都会再验证。
func storable(req *http.Request, resp *http.Response, responseTime time.Time) (bool, time.Time) {
	reasons, _, err := cachecontrol.CachableResponse(req, resp, cachecontrol.Options{PrivateCache: true})
	if err != nil || len(reasons) > 0 {
		return false, time.Time{}
	}
	expires := explicitExpiry(resp.Header, responseTime)
	hasValidator := resp.Header.Get("ETag") != "" || resp.Header.Get("Last-Modified") != ""
	if !hasValidator && !expires.After(responseTime) {
		return false, time.Time{}
	}
	return true, expires
}

// explicitExpiry 依据 RFC 7234 §4.2.1 计算新鲜期终点，no-cache 或无显式信息时返回零值。
func explicitExpiry(header http.Header, responseTime time.Time) time.Time {
	directives, err := cacheobject.ParseResponseCacheControl(strings.Join(header.Values("Cache-Control"), ", "))
	if err != nil {
		return time.Time{}
	}
	if directives.NoCachePresent {
		return time.Time{}
	}

	age := currentAge(header)
	if directives.MaxAge > 0 {
		lifetime := time.Duration(directives.MaxAge) * time.Second
		if lifetime <= age {
			return time.Time{}
		}
		return responseTime.Add(lifetime - age)
	}
	if directives.MaxAge == 0 {
		return time.Time{}
	}

	rawExpires := header.Get("Expires")
	if rawExpires == "" {
		return time.Time{}
	}
	expires, err := http.ParseTime(rawExpires)
	if err != nil {
		return time.Time{}
	}
	date := responseTime
	if rawDate := header.Get("Date"); rawDate != "" {
		if parsed, err := http.ParseTime(rawDate); err == nil {
			date = parsed
		}
	}
	lifetime := expires.Sub(date)
	if lifetime <= age {
		return time.Time{}
	}
	return responseTime.Add(lifetime - age)
}

func currentAge(header http.Header) time.Duration {
	raw := strings.TrimSpace(header.Get("Age"))
	if raw == "" {
		return 0
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
