package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("RESOURCE_SYNC_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml", "--once"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
	if !opts.once {
		t.Fatalf("--once 应被解析")
	}
}

func TestParseCLIFlagsRejectsConflicts(t *testing.T) {
	if _, err := parseCLIFlags([]string{"--check-config", "--once"}); err == nil {
		t.Fatalf("--check-config 与 --once 同时出现应报错")
	}
	if _, err := parseCLIFlags([]string{"--unknown"}); err == nil {
		t.Fatalf("未知参数应报错")
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
	if !strings.Contains(stdErrBuffer().String(), "加载配置失败") {
		t.Fatalf("stderr 应包含失败原因，得到 %s", stdErrBuffer().String())
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "resource-sync") {
		t.Fatalf("version 输出应包含 resource-sync 标识")
	}
}

func TestRunOncePublishesPack(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		_, _ = w.Write([]byte("PK once"))
	}))
	defer origin.Close()

	dataDir := t.TempDir()
	configPath := writeConfigFile(t, fmt.Sprintf(`
PackURL = "%s/resources.zip"
DataDir = "%s"
LogLevel = "warn"
`, origin.URL, dataDir))

	useBufferWriters(t)
	if code := run(cliOptions{configPath: configPath, once: true}); code != 0 {
		t.Fatalf("--once 应成功，得到 %d (stderr=%s)", code, stdErrBuffer().String())
	}
	dst := filepath.Join(dataDir, "resources.zip")
	if strings.TrimSpace(stdOutBuffer().String()) != dst {
		t.Fatalf("stdout 应输出发布路径，得到 %q", stdOutBuffer().String())
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "PK once" {
		t.Fatalf("发布内容不符: %q err=%v", data, err)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "cache.bin")); err != nil {
		t.Fatalf("缓存文件应已写入: %v", err)
	}

	// 第二次运行走 304 分支，内容保持不变。
	if code := run(cliOptions{configPath: configPath, once: true}); code != 0 {
		t.Fatalf("第二次 --once 应成功，得到 %d", code)
	}
	data, _ = os.ReadFile(dst)
	if string(data) != "PK once" {
		t.Fatalf("304 后内容应保持不变，得到 %q", data)
	}
}

func TestRunOnceFailsWithoutPublication(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer origin.Close()

	configPath := writeConfigFile(t, fmt.Sprintf(`
PackURL = "%s/resources.zip"
DataDir = "%s"
LogLevel = "error"
`, origin.URL, t.TempDir()))

	useBufferWriters(t)
	if code := run(cliOptions{configPath: configPath, once: true}); code == 0 {
		t.Fatalf("从未发布过资源包时 --once 应返回非零退出码")
	}
	if !strings.Contains(stdErrBuffer().String(), "资源包不可用") {
		t.Fatalf("stderr 应包含失败原因，得到 %s", stdErrBuffer().String())
	}
}

func TestRunOnceServesStaleCopy(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer origin.Close()

	dataDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dataDir, "resources.zip"), []byte("PK old"), 0o644); err != nil {
		t.Fatalf("写入旧资源包失败: %v", err)
	}
	configPath := writeConfigFile(t, fmt.Sprintf(`
PackURL = "%s/resources.zip"
DataDir = "%s"
LogLevel = "error"
`, origin.URL, dataDir))

	useBufferWriters(t)
	if code := run(cliOptions{configPath: configPath, once: true}); code != 0 {
		t.Fatalf("存在旧资源包时应降级成功，得到 %d", code)
	}
	if !bytes.Contains(stdOutBuffer().Bytes(), []byte("resources.zip")) {
		t.Fatalf("stdout 应输出旧资源包路径，得到 %q", stdOutBuffer().String())
	}
}
