package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/resource-sync/resource-sync/internal/fetch"
	"github.com/resource-sync/resource-sync/internal/metrics"
	"github.com/resource-sync/resource-sync/internal/pack"
	"github.com/resource-sync/resource-sync/internal/refresh"
)

// PackPath 是对外提供资源包的路径。
const PackPath = "/resources.zip"

// StaleHeader 标记本次返回的是刷新失败后的旧版本。
const StaleHeader = "X-Resource-Sync-Stale"

// PackReader 由 *pack.Reader 实现，测试中可替换。
type PackReader interface {
	Open(ctx context.Context) (*os.File, pack.Publication, error)
	Path() string
}

// Coordinator 由 *refresh.Coordinator 实现。
type Coordinator interface {
	Refresh(ctx context.Context) (*fetch.Result, error)
	Last() refresh.Outcome
	Running() bool
	Runs() int64
}

// AppOptions 描述 Fiber 应用依赖。
type AppOptions struct {
	Logger      *logrus.Logger
	Reader      PackReader
	Coordinator Coordinator
	Metrics     *metrics.Collector
	ListenPort  int
}

const contextKeyRequestID = "_resource_sync_request_id"

// NewApp 构建 Fiber 应用：资源包下载、诊断接口与统一错误处理。
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Reader == nil {
		return nil, errors.New("pack reader is required")
	}
	if opts.Coordinator == nil {
		return nil, errors.New("refresh coordinator is required")
	}
	if opts.ListenPort <= 0 || opts.ListenPort > 65535 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	h := &handlers{opts: opts}
	app.Get(PackPath, h.servePack)
	app.Post("/-/refresh", h.triggerRefresh)
	app.Get("/-/status", h.status)
	app.Get("/-/metrics", adaptor.HTTPHandler(opts.Metrics.Handler()))

	return app, nil
}

// requestIDMiddleware 为每个请求生成请求 ID，写入 Locals 与响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		code := "internal_error"
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
			code = fe.Message
		}
		if status >= fiber.StatusInternalServerError {
			logger.WithError(err).WithFields(logrus.Fields{
				"action":     "http",
				"path":       c.Path(),
				"request_id": RequestID(c),
			}).Error("request_failed")
		}
		return c.Status(status).JSON(fiber.Map{"error": code})
	}
}

type handlers struct {
	opts AppOptions
}

func (h *handlers) servePack(c fiber.Ctx) error {
	started := time.Now()
	file, pub, err := h.opts.Reader.Open(c.Context())
	if err != nil {
		fields := logrus.Fields{
			"action":     "serve_pack",
			"request_id": RequestID(c),
		}
		if errors.Is(err, pack.ErrUnavailable) {
			h.opts.Logger.WithFields(fields).WithError(err).Warn("pack_unavailable")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "pack_unavailable"})
		}
		return fiber.NewError(fiber.StatusServiceUnavailable, "pack_unavailable")
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}

	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderLastModified, info.ModTime().UTC().Format(http.TimeFormat))
	if pub.Stale {
		c.Set(StaleHeader, "true")
	}
	h.opts.Logger.WithFields(logrus.Fields{
		"action":     "serve_pack",
		"request_id": RequestID(c),
		"stale":      pub.Stale,
		"bytes":      info.Size(),
		"elapsed_ms": time.Since(started).Milliseconds(),
	}).Debug("pack_served")

	// fasthttp 在响应写完后关闭 file。
	return c.SendStream(file, int(info.Size()))
}

func (h *handlers) triggerRefresh(c fiber.Ctx) error {
	result, err := h.opts.Coordinator.Refresh(c.Context())
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":  "refresh_failed",
			"kind":   string(fetch.KindOf(err)),
			"detail": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"cache_status": string(result.CacheStatus),
		"bytes":        result.Bytes,
		"duration_ms":  result.Duration.Milliseconds(),
		"finished_at":  result.FinishedAt.UTC().Format(time.RFC3339Nano),
	})
}

type outcomePayload struct {
	TaskID      string `json:"task_id"`
	PackURL     string `json:"pack_url,omitempty"`
	Started     string `json:"started"`
	Finished    string `json:"finished"`
	Succeeded   bool   `json:"succeeded"`
	Error       string `json:"error,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
	CacheStatus string `json:"cache_status,omitempty"`
	Bytes       int64  `json:"bytes,omitempty"`
}

type publicationPayload struct {
	Path     string `json:"path"`
	Exists   bool   `json:"exists"`
	Size     int64  `json:"size,omitempty"`
	Modified string `json:"modified,omitempty"`
}

func (h *handlers) status(c fiber.Ctx) error {
	payload := fiber.Map{
		"running":     h.opts.Coordinator.Running(),
		"runs":        h.opts.Coordinator.Runs(),
		"publication": encodePublication(h.opts.Reader.Path()),
	}
	if last := h.opts.Coordinator.Last(); last.TaskID != "" {
		payload["last"] = encodeOutcome(last)
	}
	return c.JSON(payload)
}

func encodeOutcome(o refresh.Outcome) outcomePayload {
	payload := outcomePayload{
		TaskID:    o.TaskID,
		PackURL:   o.PackURL,
		Started:   o.Started.UTC().Format(time.RFC3339Nano),
		Finished:  o.Finished.UTC().Format(time.RFC3339Nano),
		Succeeded: o.Succeeded(),
	}
	if o.Err != nil {
		payload.Error = o.Err.Error()
		payload.ErrorKind = string(fetch.KindOf(o.Err))
	}
	if o.Result != nil {
		payload.CacheStatus = string(o.Result.CacheStatus)
		payload.Bytes = o.Result.Bytes
	}
	return payload
}

func encodePublication(path string) publicationPayload {
	payload := publicationPayload{Path: path}
	info, err := os.Stat(path)
	if err != nil {
		return payload
	}
	payload.Exists = true
	payload.Size = info.Size()
	payload.Modified = info.ModTime().UTC().Format(time.RFC3339)
	return payload
}
