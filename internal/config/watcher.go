package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Watcher 持有当前生效的 PackURL，并在配置文件变更时热更新。
// 其它字段仅在启动时生效，变更后记录一条提示日志。
type Watcher struct {
	path   string
	logger logrus.FieldLogger

	mu      sync.RWMutex
	current *Config
}

// NewWatcher 以已加载的 cfg 作为初始值；调用 Start 后才开始监听文件。
func NewWatcher(path string, cfg *Config, logger logrus.FieldLogger) *Watcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Watcher{
		path:    path,
		logger:  logger,
		current: cfg,
	}
}

// PackURL 返回当前配置的资源包地址。
func (w *Watcher) PackURL() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.current == nil {
		return ""
	}
	return w.current.PackURL
}

// Current 返回当前配置快照。
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start 通过 viper.WatchConfig 监听配置文件，解析失败时保留旧值。
func (w *Watcher) Start() error {
	v, err := newViper(w.path)
	if err != nil {
		return err
	}
	v.OnConfigChange(func(event fsnotify.Event) {
		w.reload(v, event)
	})
	v.WatchConfig()
	return nil
}

func (w *Watcher) reload(v *viper.Viper, event fsnotify.Event) {
	fields := logrus.Fields{
		"action": "config_reload",
		"path":   event.Name,
		"op":     event.Op.String(),
	}

	next, err := decode(v)
	if err != nil {
		w.logger.WithFields(fields).WithError(err).Warn("配置重载失败，沿用旧配置")
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	w.mu.Unlock()

	if prev != nil && prev.Global != next.Global {
		w.logger.WithFields(fields).Info("除 PackURL 外的配置需重启后生效")
	}
	if prev == nil || prev.PackURL != next.PackURL {
		fields["pack_url"] = next.PackURL
		w.logger.WithFields(fields).Info("PackURL 已更新")
	}
}
