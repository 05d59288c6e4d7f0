// Package gateway 实现网关服务端
//
// Gateway 组合传输选择、流量整形、水位线背压、连接注册表与消息分发器，
// 并以 server.Hooks 的形式交给通用服务端绑定。生命周期：
//
//	Uninitialized → Initialized → Serving → Stopping → Stopped
//
// Stop 的拆除顺序固定为：服务端 → 流量整形（Release 后 Shutdown）→ 连接注册表。
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/mpush/go-mpush/config"
	"github.com/mpush/go-mpush/internal/core/connection"
	"github.com/mpush/go-mpush/internal/core/dispatcher"
	"github.com/mpush/go-mpush/internal/core/handler"
	"github.com/mpush/go-mpush/internal/core/lifecycle"
	"github.com/mpush/go-mpush/internal/core/metrics"
	"github.com/mpush/go-mpush/internal/core/server"
	"github.com/mpush/go-mpush/internal/core/shaping"
	"github.com/mpush/go-mpush/internal/core/transport"
	pkgif "github.com/mpush/go-mpush/pkg/interfaces"
	"github.com/mpush/go-mpush/pkg/lib/log"
	"github.com/mpush/go-mpush/pkg/protocol"
)

var logger = log.Logger("core/gateway")

var (
	// ErrNotInitialized 未调用 Init
	ErrNotInitialized = errors.New("gateway not initialized")

	// ErrStopped 网关已停止
	ErrStopped = errors.New("gateway stopped")
)

// 拆除步骤名
const (
	StepServer     = "server"
	StepShaping    = "traffic-shaping"
	StepConnection = "connection-registry"
)

// ============================================================================
//                              Gateway 实现
// ============================================================================

// Gateway 网关服务端
type Gateway struct {
	cfg     *config.Config
	sel     transport.Selection
	pusher  handler.Pusher
	metrics *metrics.Metrics
	clock   clock.Clock

	coord    *lifecycle.Coordinator
	teardown lifecycle.Teardown

	initOnce sync.Once
	initErr  error

	stopMu  sync.Mutex
	stopErr error

	dispatcher     *dispatcher.MessageDispatcher
	manager        *connection.Manager
	channelHandler *connection.ServerHandler
	shaping        *shaping.Controller
	server         *server.Server
}

// Option 网关选项
type Option func(*Gateway)

// WithSelection 指定传输选择，默认由配置决定
func WithSelection(sel transport.Selection) Option {
	return func(g *Gateway) {
		g.sel = sel
	}
}

// WithPusher 指定推送投递实现
func WithPusher(p handler.Pusher) Option {
	return func(g *Gateway) {
		g.pusher = p
	}
}

// WithMetrics 指定指标集合
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithClock 注入时钟
func WithClock(clk clock.Clock) Option {
	return func(g *Gateway) {
		g.clock = clk
	}
}

// New 创建网关
//
// 传输决策在这里完成一次，之后 ChannelFactory/SelectorProvider 始终返回同一对。
func New(cfg *config.Config, opts ...Option) *Gateway {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	g := &Gateway{
		cfg:   cfg,
		clock: clock.New(),
		coord: lifecycle.NewCoordinator(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.sel.Factory == nil || g.sel.Provider == nil {
		g.sel = transport.FromConfig(cfg)
	}
	if g.metrics != nil {
		g.coord.OnPhaseChange(func(_, p lifecycle.Phase) { g.metrics.SetPhase(int(p)) })
	}
	return g
}

// ============================================================================
//                              初始化
// ============================================================================

// Init 构建分发器、连接注册表、连接处理器与流量整形
//
// 只执行一次，重复调用返回第一次的结果。
func (g *Gateway) Init() error {
	g.initOnce.Do(func() {
		g.initErr = g.init()
	})
	return g.initErr
}

func (g *Gateway) init() error {
	if g.coord.Phase() != lifecycle.PhaseUninitialized {
		return fmt.Errorf("%w: phase=%s", ErrStopped, g.coord.Phase())
	}

	push := handler.NewGatewayPushHandler(g.pusher)
	var dispatchOpts []dispatcher.Option
	if g.metrics != nil {
		push.OnReplyDropped(g.metrics.ReplyDropped)
		dispatchOpts = append(dispatchOpts, dispatcher.WithResultObserver(g.metrics.ObserveDispatch))
	}
	g.dispatcher = dispatcher.New(dispatchOpts...)
	if err := g.dispatcher.Register(protocol.CmdGatewayPush, push); err != nil {
		return err
	}

	idle := g.cfg.Gateway.IdleTimeout.Duration()
	managerOpts := []connection.ManagerOption{connection.WithManagerClock(g.clock)}
	if g.metrics != nil {
		managerOpts = append(managerOpts, connection.WithCountObserver(g.metrics.SetConnections))
	}
	g.manager = connection.NewManager(idle > 0, idle, managerOpts...)
	g.channelHandler = connection.NewServerHandler(g.manager, g.dispatcher)

	if ts := g.cfg.Net.TrafficShaping; ts.Enabled {
		shapingOpts := []shaping.Option{shaping.WithClock(g.clock)}
		if g.metrics != nil {
			shapingOpts = append(shapingOpts, shaping.WithObserver(g.metrics))
		}
		g.shaping = shaping.New(shaping.ConfigFrom(ts), shapingOpts...)
	}

	serverOpts := []server.Option{server.WithClock(g.clock)}
	if g.metrics != nil {
		serverOpts = append(serverOpts, server.WithObserver(g.metrics))
	}
	g.server = server.New(g.address(), g, serverOpts...)

	// 拆除顺序：服务端 → 流量整形 → 连接注册表
	g.teardown.Add(StepServer, func() error { return g.server.Stop(nil) })
	if g.shaping != nil {
		g.teardown.Add(StepShaping, g.shaping.Close)
	}
	g.teardown.AddFunc(StepConnection, g.manager.Destroy)

	logger.Info("网关已初始化",
		"transport", g.sel.Kind.String(),
		"shaping", g.shaping != nil,
		"heartbeatCheck", g.manager.HeartbeatCheck())
	return g.coord.AdvanceTo(lifecycle.PhaseInitialized)
}

func (g *Gateway) address() string {
	return net.JoinHostPort(g.cfg.Gateway.Host, strconv.Itoa(g.cfg.Gateway.Port))
}

// ============================================================================
//                              启动与停止
// ============================================================================

// Start 绑定端口并开始接受连接
//
// 未初始化时先执行 Init。绑定失败返回错误，由调用方决定是否退出进程。
func (g *Gateway) Start(ctx context.Context, listener pkgif.Listener) error {
	if err := g.Init(); err != nil {
		pkgif.NotifyFailure(listener, err)
		return err
	}
	if g.coord.Phase() != lifecycle.PhaseInitialized {
		err := fmt.Errorf("%w: phase=%s", ErrStopped, g.coord.Phase())
		pkgif.NotifyFailure(listener, err)
		return err
	}

	if err := g.server.Start(ctx, listener); err != nil {
		return fmt.Errorf("gateway start: %w", err)
	}
	if !g.coord.CompareAndAdvance(lifecycle.PhaseInitialized, lifecycle.PhaseServing) {
		// Stop 与 Start 并发，Stop 已接管
		_ = g.server.Stop(nil)
		return ErrStopped
	}
	return nil
}

// Stop 按序拆除网关
//
// 每一步都会执行，错误合并返回；重复调用为空操作。
func (g *Gateway) Stop(listener pkgif.Listener) error {
	g.stopMu.Lock()
	defer g.stopMu.Unlock()

	if g.coord.Reached(lifecycle.PhaseStopping) {
		pkgif.NotifySuccess(listener)
		return nil
	}
	if err := g.coord.AdvanceTo(lifecycle.PhaseStopping); err != nil {
		pkgif.NotifyFailure(listener, err)
		return err
	}

	g.stopErr = g.teardown.Run()
	_ = g.coord.AdvanceTo(lifecycle.PhaseStopped)

	if g.stopErr != nil {
		logger.Warn("网关停止时出现错误", "error", g.stopErr)
		pkgif.NotifyFailure(listener, g.stopErr)
		return g.stopErr
	}
	logger.Info("网关已停止")
	pkgif.NotifySuccess(listener)
	return nil
}

// ============================================================================
//                              访问器
// ============================================================================

// Phase 当前生命周期阶段
func (g *Gateway) Phase() lifecycle.Phase {
	return g.coord.Phase()
}

// Coordinator 生命周期协调器
func (g *Gateway) Coordinator() *lifecycle.Coordinator {
	return g.coord
}

// Selection 传输选择
func (g *Gateway) Selection() transport.Selection {
	return g.sel
}

// Dispatcher 消息分发器，Init 之前为 nil
func (g *Gateway) Dispatcher() *dispatcher.MessageDispatcher {
	return g.dispatcher
}

// ConnectionManager 连接注册表，Init 之前为 nil
func (g *Gateway) ConnectionManager() *connection.Manager {
	return g.manager
}

// Shaping 流量整形器，未启用时为 nil
func (g *Gateway) Shaping() *shaping.Controller {
	return g.shaping
}

// Server 通用服务端，Init 之前为 nil
func (g *Gateway) Server() *server.Server {
	return g.server
}

// Addr 实际监听地址，未启动时返回 nil
func (g *Gateway) Addr() net.Addr {
	if g.server == nil {
		return nil
	}
	return g.server.Addr()
}

// StopSteps 按执行顺序返回拆除步骤名
func (g *Gateway) StopSteps() []string {
	return g.teardown.Names()
}
