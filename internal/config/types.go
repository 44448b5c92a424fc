package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// 数据目录下的固定文件名。
const (
	CacheFileName       = "cache.bin"
	DestinationFileName = "resources.zip"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// ByteSize 兼容纯数字字节数与 "512MiB"、"1 GB" 等写法。
type ByteSize int64

// UnmarshalText 解析人类可读的容量字符串。
func (b *ByteSize) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*b = 0
		return nil
	}
	parsed, err := humanize.ParseBytes(raw)
	if err != nil {
		return fmt.Errorf("invalid byte size value: %s", raw)
	}
	*b = ByteSize(parsed)
	return nil
}

// Int64 返回字节数。
func (b ByteSize) Int64() int64 {
	return int64(b)
}

// String 以 IEC 单位输出，用于日志。
func (b ByteSize) String() string {
	if b <= 0 {
		return "unlimited"
	}
	return humanize.IBytes(uint64(b))
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行时行为。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	DataDir         string   `mapstructure:"DataDir"`
	RefreshSchedule string   `mapstructure:"RefreshSchedule"`
	FetchTimeout    Duration `mapstructure:"FetchTimeout"`
	WaitTimeout     Duration `mapstructure:"WaitTimeout"`
	MaxPackSize     ByteSize `mapstructure:"MaxPackSize"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	// PackURL 为资源包地址；每次刷新任务构造时读取一次，格式错误只影响该次任务。
	PackURL string `mapstructure:"PackURL"`
}

// CachePath 返回单槽 HTTP 缓存文件路径。
func (g GlobalConfig) CachePath() string {
	return filepath.Join(g.DataDir, CacheFileName)
}

// DestinationPath 返回发布的资源包路径。
func (g GlobalConfig) DestinationPath() string {
	return filepath.Join(g.DataDir, DestinationFileName)
}

// HTTPEnabled 表示是否需要启动 HTTP 服务。
func (g GlobalConfig) HTTPEnabled() bool {
	return g.ListenPort > 0
}
