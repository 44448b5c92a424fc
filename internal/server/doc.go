// Package server hosts the Fiber HTTP surface and the shared upstream HTTP
// client. The app exposes the published pack at /resources.zip and keeps its
// diagnostics (refresh trigger, status, Prometheus metrics) under /-/ so they
// never collide with pack paths. Keep exports narrow and accept explicit
// dependencies; all state lives in the refresh coordinator and pack reader.
package server
