package shaping

import (
	"context"

	"github.com/mpush/go-mpush/internal/core/pipeline"
	pkgif "github.com/mpush/go-mpush/pkg/interfaces"
	"github.com/mpush/go-mpush/pkg/protocol"
)

// StageName 整形阶段在处理链中的名称
const StageName = "traffic-shaping"

// Stage 把整形器接入处理链
//
// 入站等待发生在连接读 goroutine 上，等待期间不再读取 socket；
// 出站等待发生在写 goroutine 上，等待期间待写字节留在出站队列里，由水位线反映。
type Stage struct {
	c *Controller
}

var (
	_ pipeline.InboundStage   = (*Stage)(nil)
	_ pipeline.OutboundStage  = (*Stage)(nil)
	_ pipeline.LifecycleStage = (*Stage)(nil)
)

// NewStage 创建整形阶段
func NewStage(c *Controller) *Stage {
	return &Stage{c: c}
}

// Name 实现 pipeline.Stage
func (s *Stage) Name() string {
	return StageName
}

// Active 实现 pipeline.LifecycleStage
func (s *Stage) Active(conn pkgif.Connection) {
	s.c.AddChannel(conn.ID())
}

// Inactive 实现 pipeline.LifecycleStage
func (s *Stage) Inactive(conn pkgif.Connection) {
	s.c.RemoveChannel(conn.ID())
}

// Inbound 实现 pipeline.InboundStage
func (s *Stage) Inbound(ctx context.Context, conn pkgif.Connection, p *protocol.Packet) error {
	return s.c.Wait(ctx, s.c.ReadDelay(conn.ID(), p.Size()))
}

// Outbound 实现 pipeline.OutboundStage
func (s *Stage) Outbound(ctx context.Context, conn pkgif.Connection, p *protocol.Packet) error {
	return s.c.Wait(ctx, s.c.WriteDelay(conn.ID(), p.Size()))
}
