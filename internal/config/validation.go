package config

import (
	"errors"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
// PackURL 不在此校验：它在每次刷新时读取，格式错误由该次刷新以配置错误上报。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort < 0 || g.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 0-65535（0 表示不启动 HTTP 服务）")
	}
	if strings.TrimSpace(g.DataDir) == "" {
		return newFieldError("DataDir", "不能为空")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return wrapFieldError("LogLevel", "无法识别的日志级别", err)
	}
	if g.FetchTimeout.DurationValue() <= 0 {
		return newFieldError("FetchTimeout", "必须大于 0")
	}
	if g.WaitTimeout.DurationValue() <= 0 {
		return newFieldError("WaitTimeout", "必须大于 0")
	}
	if g.MaxPackSize < 0 {
		return newFieldError("MaxPackSize", "不能为负数")
	}
	if _, err := cron.ParseStandard(g.RefreshSchedule); err != nil {
		return wrapFieldError("RefreshSchedule", "无法解析", err)
	}
	return nil
}
