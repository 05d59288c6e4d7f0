// Package main 提供 mpush 网关命令行入口
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mpush/go-mpush/config"
	"github.com/mpush/go-mpush/internal/core/gateway"
	"github.com/mpush/go-mpush/internal/core/metrics"
	"github.com/mpush/go-mpush/internal/core/transport"
	"github.com/mpush/go-mpush/pkg/lib/log"
)

var logger = log.Logger("mpush/cmd")

// 版本信息，构建时通过 -ldflags 注入
var (
	Version   = "dev"
	GitCommit = ""
	BuildDate = ""
)

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
//   命令行参数：运行时覆盖（「这次运行」想怎么跑）
//   JSON 配置文件：持久化配置（水位线、流量整形等）
//
// ═══════════════════════════════════════════════════════════════════════════
var (
	configFile  = flag.String("config", "", "配置文件路径")
	port        = flag.Int("port", 0, "网关监听端口（覆盖配置文件）")
	transportKw = flag.String("transport", "", "传输类型 tcp/udt/sctp（覆盖配置文件）")
	logLevel    = flag.String("log-level", "", "日志级别 debug/info/warn/error")
	metricsAddr = flag.String("metrics", "", "Prometheus /metrics 监听地址，如 :9100")
	fxLog       = flag.Bool("fx-log", false, "输出依赖注入容器日志")
	showVersion = flag.Bool("version", false, "显示版本信息")
)

// stopTimeout 优雅关闭的最长等待时间
const stopTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	if *showVersion {
		printVersion()
		return nil
	}

	cfg, err := buildConfig()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}
	if err := log.Setup(log.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		return fmt.Errorf("日志初始化失败: %w", err)
	}
	config.SetGlobal(cfg)

	logger.Info("启动 mpush 网关", "version", Version, "commit", GitCommit, "buildDate", BuildDate)

	var reg *prometheus.Registry
	if cfg.Metrics.ListenAddr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	var gw *gateway.Gateway
	app := fx.New(buildModules(cfg, reg, &gw)...)
	if err := app.Err(); err != nil {
		return fmt.Errorf("组装失败: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancelStart := context.WithTimeout(ctx, app.StartTimeout())
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}
	fmt.Printf("mpush 网关已启动: %s (%s)，按 Ctrl+C 退出\n", gw.Addr(), gw.Selection().Kind)

	g, gctx := errgroup.WithContext(ctx)
	if reg != nil {
		srv := newMetricsServer(cfg.Metrics.ListenAddr, reg)
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	runErr := g.Wait()

	fmt.Println("\n正在关闭网关...")
	stopCtx, cancelStop := context.WithTimeout(context.Background(), stopTimeout)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("关闭失败: %w", err))
	}
	return runErr
}

// buildModules 组装 Fx 模块
func buildModules(cfg *config.Config, reg *prometheus.Registry, out **gateway.Gateway) []fx.Option {
	modules := []fx.Option{
		fx.Supply(cfg),
		transport.Module(),
		metrics.Module(),
		gateway.Module(),
		fx.Populate(out),
	}
	if reg != nil {
		modules = append(modules, fx.Provide(func() prometheus.Registerer { return reg }))
	}

	// Fx 日志默认关闭，避免干扰网关日志
	modules = append(modules, fx.WithLogger(func() fxevent.Logger {
		if *fxLog {
			if z, err := zap.NewDevelopment(); err == nil {
				return &fxevent.ZapLogger{Logger: z}
			}
		}
		return &fxevent.ZapLogger{Logger: zap.NewNop()}
	}))
	return modules
}

func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func printVersion() {
	fmt.Printf("mpush-gateway %s\n", Version)
	if GitCommit != "" {
		fmt.Printf("  commit: %s\n", GitCommit)
	}
	if BuildDate != "" {
		fmt.Printf("  built:  %s\n", BuildDate)
	}
}
