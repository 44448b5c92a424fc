package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, `PackURL = "https://packs.example.com/a.zip"`))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.ListenPort != 5000 {
		t.Fatalf("ListenPort 应使用默认值 5000，得到 %d", cfg.Global.ListenPort)
	}
	if cfg.Global.FetchTimeout.DurationValue() != 30*time.Second {
		t.Fatalf("FetchTimeout 默认应为 30s，得到 %s", cfg.Global.FetchTimeout.DurationValue())
	}
	if cfg.Global.WaitTimeout.DurationValue() != 2*time.Minute {
		t.Fatalf("WaitTimeout 默认应为 2m")
	}
	if cfg.Global.MaxPackSize.Int64() != 512*1024*1024 {
		t.Fatalf("MaxPackSize 默认应为 512MiB，得到 %d", cfg.Global.MaxPackSize)
	}
	if cfg.Global.RefreshSchedule != "@every 10m" {
		t.Fatalf("RefreshSchedule 默认值错误: %s", cfg.Global.RefreshSchedule)
	}
	if !filepath.IsAbs(cfg.Global.DataDir) {
		t.Fatalf("DataDir 应被转换为绝对路径: %s", cfg.Global.DataDir)
	}
}

func TestLoadFixture(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.PackURL != "https://packs.example.com/server/resources.zip" {
		t.Fatalf("PackURL 解析错误: %s", cfg.PackURL)
	}
	if cfg.Global.FetchTimeout.DurationValue() != 45*time.Second {
		t.Fatalf("FetchTimeout 解析错误: %s", cfg.Global.FetchTimeout.DurationValue())
	}
	if cfg.Global.MaxPackSize.Int64() != 64*1024*1024 {
		t.Fatalf("MaxPackSize 解析错误: %d", cfg.Global.MaxPackSize)
	}
	if cfg.Global.CachePath() != filepath.Join(cfg.Global.DataDir, CacheFileName) {
		t.Fatalf("CachePath 应位于 DataDir 下")
	}
	if cfg.Global.DestinationPath() != filepath.Join(cfg.Global.DataDir, DestinationFileName) {
		t.Fatalf("DestinationPath 应位于 DataDir 下")
	}
}

func TestLoadDefaultsPackURLPlaceholder(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, `ListenPort = 0`))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.PackURL != DefaultPackURL {
		t.Fatalf("未配置 PackURL 时应使用占位地址，得到 %s", cfg.PackURL)
	}
	if cfg.Global.HTTPEnabled() {
		t.Fatalf("ListenPort=0 时不应启动 HTTP 服务")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	if _, err := Load(testConfigPath(t, "invalid.toml")); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}

	cfg := validConfig()
	cfg.Global.ListenPort = -1
	err := cfg.Validate()
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "ListenPort" {
		t.Fatalf("期望 ListenPort 字段错误，得到 %v", err)
	}
}

func TestValidateRejectsBadFields(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty data dir", func(c *Config) { c.Global.DataDir = " " }, "DataDir"},
		{"bad log level", func(c *Config) { c.Global.LogLevel = "loud" }, "LogLevel"},
		{"zero fetch timeout", func(c *Config) { c.Global.FetchTimeout = 0 }, "FetchTimeout"},
		{"zero wait timeout", func(c *Config) { c.Global.WaitTimeout = 0 }, "WaitTimeout"},
		{"negative pack size", func(c *Config) { c.Global.MaxPackSize = -1 }, "MaxPackSize"},
		{"bad schedule", func(c *Config) { c.Global.RefreshSchedule = "every now and then" }, "RefreshSchedule"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			var fieldErr FieldError
			if err := cfg.Validate(); !errors.As(err, &fieldErr) || fieldErr.Field != tc.field {
				t.Fatalf("期望字段 %s 报错，得到 %v", tc.field, err)
			}
		})
	}
}

func TestFieldErrorKeepsCause(t *testing.T) {
	cfg := validConfig()
	cfg.Global.RefreshSchedule = "61 * * * *"
	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("字段错误应匹配 ErrInvalidConfig，得到 %v", err)
	}
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Cause == nil {
		t.Fatalf("RefreshSchedule 错误应携带 cron 解析原因，得到 %#v", err)
	}
	if errors.Unwrap(err) != fieldErr.Cause {
		t.Fatalf("Unwrap 应返回底层原因")
	}

	cfg = validConfig()
	cfg.Global.DataDir = ""
	err = cfg.Validate()
	if !errors.Is(err, ErrInvalidConfig) || errors.Unwrap(err) != nil {
		t.Fatalf("无底层原因的字段错误不应可展开，得到 %v", err)
	}
	if err.Error() != "DataDir: 不能为空" {
		t.Fatalf("错误文本不符: %q", err.Error())
	}
}

func TestValidateIgnoresMalformedPackURL(t *testing.T) {
	cfg := validConfig()
	cfg.PackURL = "::not a url::"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("PackURL 由刷新任务校验，Validate 不应报错: %v", err)
	}
}

func validConfig() *Config {
	return &Config{
		PackURL: "https://packs.example.com/resources.zip",
		Global: GlobalConfig{
			ListenPort:      5000,
			LogLevel:        "info",
			DataDir:         "./data",
			RefreshSchedule: "@every 10m",
			FetchTimeout:    Duration(30 * time.Second),
			WaitTimeout:     Duration(time.Minute),
			MaxPackSize:     ByteSize(1 << 20),
		},
	}
}
