package gateway

import (
	"time"

	"github.com/mpush/go-mpush/internal/core/pipeline"
	"github.com/mpush/go-mpush/internal/core/server"
	"github.com/mpush/go-mpush/internal/core/shaping"
	"github.com/mpush/go-mpush/internal/core/watermark"
	pkgif "github.com/mpush/go-mpush/pkg/interfaces"
)

// 线程名
const (
	BossThreadName   = "gateway-boss"
	WorkerThreadName = "gateway-worker"
)

// IORatio worker 全部时间用于 I/O，周期维护在独立 goroutine 上执行
const IORatio = 100

var (
	_ server.Hooks       = (*Gateway)(nil)
	_ server.Housekeeper = (*Gateway)(nil)
)

// ChannelHandler 实现 server.Hooks
func (g *Gateway) ChannelHandler() pipeline.ChannelHandler {
	if g.channelHandler == nil {
		return nil
	}
	return g.channelHandler
}

// ChannelFactory 实现 server.Hooks
func (g *Gateway) ChannelFactory() pkgif.ChannelFactory {
	return g.sel.Factory
}

// SelectorProvider 实现 server.Hooks
func (g *Gateway) SelectorProvider() pkgif.SelectorProvider {
	return g.sel.Provider
}

// BossThreadName 实现 server.Hooks
func (g *Gateway) BossThreadName() string {
	return BossThreadName
}

// WorkerThreadName 实现 server.Hooks
func (g *Gateway) WorkerThreadName() string {
	return WorkerThreadName
}

// IORatio 实现 server.Hooks
func (g *Gateway) IORatio() int {
	return IORatio
}

// WorkerThreadNum 实现 server.Hooks
func (g *Gateway) WorkerThreadNum() int {
	return g.cfg.Thread.GatewayServerWork
}

// InitPipeline 实现 server.Hooks
//
// 流量整形追加在服务端自身阶段之后，统计的是解码后的包大小。
func (g *Gateway) InitPipeline(p *pipeline.Pipeline) error {
	if g.shaping == nil {
		return nil
	}
	return p.AddLast(shaping.NewStage(g.shaping))
}

// InitOptions 实现 server.Hooks
func (g *Gateway) InitOptions(opts *server.ChildOptions) {
	nc := g.cfg.Net
	if nc.SndBuf > 0 {
		opts.Socket.SendBuffer = nc.SndBuf
	}
	if nc.RcvBuf > 0 {
		opts.Socket.ReceiveBuffer = nc.RcvBuf
	}

	wm := nc.WriteBufferWaterMark
	if mark, ok := watermark.Resolve(wm.Low, wm.High); ok {
		opts.WaterMark = mark
	} else if wm.Low != 0 || wm.High != 0 {
		logger.Warn("写缓冲水位线配置无效，使用默认值", "low", wm.Low, "high", wm.High,
			"defaultLow", watermark.DefaultLow, "defaultHigh", watermark.DefaultHigh)
	}

	if g.cfg.Gateway.MaxPacketSize > 0 {
		opts.MaxPacketSize = g.cfg.Gateway.MaxPacketSize
	}
}

// HousekeepingInterval 实现 server.Housekeeper
//
// 只在开启心跳检测时清理空闲连接，检查频率为空闲超时的一半。
func (g *Gateway) HousekeepingInterval() time.Duration {
	if g.manager == nil || !g.manager.HeartbeatCheck() {
		return 0
	}
	return g.manager.IdleTimeout() / 2
}

// Housekeep 实现 server.Housekeeper
func (g *Gateway) Housekeep(time.Time) {
	if n := g.manager.Sweep(); n > 0 {
		logger.Info("清理空闲连接", "count", n)
	}
}
