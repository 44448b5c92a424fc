package config

import (
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestLoadFailsWithMissingFile(t *testing.T) {
	if _, err := Load(testConfigPath(t, "does-not-exist.toml")); err == nil {
		t.Fatalf("缺失的配置文件应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
PackURL = "https://packs.example.com/a.zip"
FetchTimeout = "boom"
`
	if _, err := Load(writeTempConfig(t, cfg)); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadAcceptsNumericValues(t *testing.T) {
	cfg := `
FetchTimeout = 12
MaxPackSize = 2048
`
	loaded, err := Load(writeTempConfig(t, cfg))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Global.FetchTimeout.DurationValue() != 12*time.Second {
		t.Fatalf("纯数字应按秒解析，得到 %s", loaded.Global.FetchTimeout.DurationValue())
	}
	if loaded.Global.MaxPackSize.Int64() != 2048 {
		t.Fatalf("纯数字应按字节解析，得到 %d", loaded.Global.MaxPackSize)
	}
}

func TestLoadRejectsInvalidByteSize(t *testing.T) {
	if _, err := Load(writeTempConfig(t, `MaxPackSize = "lots"`)); err == nil {
		t.Fatalf("无效容量应失败")
	}
}

func TestWatcherPicksUpNewPackURL(t *testing.T) {
	path := writeTempConfig(t, `PackURL = "https://a.example.com/pack.zip"`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	watcher := NewWatcher(path, cfg, logger)
	if watcher.PackURL() != "https://a.example.com/pack.zip" {
		t.Fatalf("初始 PackURL 错误: %s", watcher.PackURL())
	}
	if err := watcher.Start(); err != nil {
		t.Fatalf("Start 返回错误: %v", err)
	}

	if err := os.WriteFile(path, []byte(`PackURL = "https://b.example.com/pack.zip"`), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if watcher.PackURL() == "https://b.example.com/pack.zip" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("PackURL 未热更新，仍为 %s", watcher.PackURL())
}
