package logging

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// TaskFields 描述一次刷新任务，供 fetch/refresh/pack 的日志复用。
func TaskFields(taskID, packURL string) logrus.Fields {
	return logrus.Fields{
		"task_id":  taskID,
		"pack_url": packURL,
	}
}

// ResultFields 输出下载结果摘要；size 同时给出字节数与可读形式。
func ResultFields(status string, size int64, elapsed time.Duration) logrus.Fields {
	fields := logrus.Fields{
		"cache_status": status,
		"bytes":        size,
		"elapsed_ms":   elapsed.Milliseconds(),
	}
	if size >= 0 {
		fields["size"] = humanize.IBytes(uint64(size))
	}
	return fields
}
