// Package httpcache is a private-cache http.RoundTripper that keeps its
// responses in a cache.Store. GET responses carrying validators are stored
// whole; later requests either reuse them while explicitly fresh, or revalidate
// with If-None-Match / If-Modified-Since and merge a 304 into the stored entry
// through Store.Update. Every response leaving the transport is tagged with an
// X-Cache-Status header so callers can log how it was produced.
package httpcache
