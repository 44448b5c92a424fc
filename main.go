package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/resource-sync/resource-sync/internal/cache"
	"github.com/resource-sync/resource-sync/internal/config"
	"github.com/resource-sync/resource-sync/internal/fetch"
	"github.com/resource-sync/resource-sync/internal/httpcache"
	"github.com/resource-sync/resource-sync/internal/logging"
	"github.com/resource-sync/resource-sync/internal/metrics"
	"github.com/resource-sync/resource-sync/internal/pack"
	"github.com/resource-sync/resource-sync/internal/refresh"
	"github.com/resource-sync/resource-sync/internal/schedule"
	"github.com/resource-sync/resource-sync/internal/server"
	"github.com/resource-sync/resource-sync/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	once        bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

// shutdownTimeout 限制退出时等待 HTTP 连接与进行中刷新的时间。
const shutdownTimeout = 10 * time.Second

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["pack_url"] = cfg.PackURL
		fields["data_dir"] = cfg.Global.DataDir
		fields["schedule"] = cfg.Global.RefreshSchedule
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 启动顺序为“配置 → 缓存文件 → 缓存 transport → 协调器 → Reader”，
	// 所有刷新共享同一个单槽缓存与协调器实例。
	svc, err := buildService(cfg, opts.configPath, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["pack_url"] = cfg.PackURL
	fields["destination"] = cfg.Global.DestinationPath()
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if opts.once {
		return runOnce(ctx, svc, logger)
	}
	if err := runDaemon(ctx, cfg, svc, logger); err != nil {
		fmt.Fprintf(stdErr, "服务运行失败: %v\n", err)
		return 1
	}
	return 0
}

// service 聚合一次进程生命周期内共享的组件。
type service struct {
	watcher     *config.Watcher
	metrics     *metrics.Collector
	coordinator *refresh.Coordinator
	reader      *pack.Reader
}

func buildService(cfg *config.Config, configPath string, logger *logrus.Logger) (*service, error) {
	store, err := cache.NewStore(cfg.Global.CachePath())
	if err != nil {
		return nil, fmt.Errorf("初始化缓存文件失败: %w", err)
	}

	collector := metrics.New()
	watcher := config.NewWatcher(configPath, cfg, logger)

	cached := httpcache.NewTransport(store, server.NewUpstreamTransport(cfg), logger)
	cached.MaxBodyBytes = cfg.Global.MaxPackSize.Int64()
	client := server.NewUpstreamClient(cfg, cached)

	destination := cfg.Global.DestinationPath()
	coordinator, err := refresh.New(refresh.Options{
		Factory: func() (refresh.Runner, error) {
			// 每个任务读取一次最新的 PackURL。
			fetcher, err := fetch.New(fetch.Options{
				URL:         watcher.PackURL(),
				Destination: destination,
				Client:      client,
				MaxBytes:    cfg.Global.MaxPackSize.Int64(),
				Logger:      logger,
			})
			if err != nil {
				return nil, err
			}
			return fetcher, nil
		},
		Logger:  logger,
		Metrics: collector,
	})
	if err != nil {
		return nil, err
	}

	reader, err := pack.New(pack.Options{
		Path:        destination,
		Refresher:   coordinator,
		WaitTimeout: cfg.Global.WaitTimeout.DurationValue(),
		Logger:      logger,
		Metrics:     collector,
	})
	if err != nil {
		return nil, err
	}

	return &service{
		watcher:     watcher,
		metrics:     collector,
		coordinator: coordinator,
		reader:      reader,
	}, nil
}

// runOnce 执行一次 ensure-latest；只有从未成功发布过资源包时返回非零退出码。
func runOnce(ctx context.Context, svc *service, logger *logrus.Logger) int {
	pub, err := svc.reader.EnsureLatest(ctx)
	if err != nil {
		logger.WithError(err).WithField("action", "once").Error("资源包不可用")
		fmt.Fprintf(stdErr, "资源包不可用: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdOut, pub.Path)
	return 0
}

func runDaemon(ctx context.Context, cfg *config.Config, svc *service, logger *logrus.Logger) error {
	if err := svc.watcher.Start(); err != nil {
		logger.WithError(err).WithField("action", "config_watch").Warn("配置热更新不可用")
	}

	scheduler, err := schedule.New(cfg.Global.RefreshSchedule, svc.coordinator, logger)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer stopScheduler(scheduler, logger)

	if !cfg.Global.HTTPEnabled() {
		logger.WithField("action", "listen").Info("ListenPort=0，未启动 HTTP 服务")
		<-ctx.Done()
		return nil
	}
	return startHTTPServer(ctx, cfg, svc, logger)
}

func startHTTPServer(ctx context.Context, cfg *config.Config, svc *service, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:      logger,
		Reader:      svc.reader,
		Coordinator: svc.coordinator,
		Metrics:     svc.metrics,
		ListenPort:  port,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   port,
		}).Info("Fiber 服务启动")
		errCh <- app.Listen(fmt.Sprintf(":%d", port))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.WithField("action", "shutdown").Info("正在关闭 HTTP 服务")
	if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func stopScheduler(s *schedule.Scheduler, logger *logrus.Logger) {
	select {
	case <-s.Stop().Done():
	case <-time.After(shutdownTimeout):
		logger.WithField("action", "shutdown").Warn("等待刷新任务结束超时")
	}
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("resource-sync", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		once       bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 RESOURCE_SYNC_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&once, "once", false, "刷新一次并输出资源包路径后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	if checkOnly && once {
		return cliOptions{}, errors.New("--check-config 与 --once 不能同时使用")
	}

	path := os.Getenv("RESOURCE_SYNC_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		once:        once,
		showVersion: showVer,
	}, nil
}
