package connection

import (
	"context"

	"github.com/mpush/go-mpush/internal/core/pipeline"
	pkgif "github.com/mpush/go-mpush/pkg/interfaces"
	"github.com/mpush/go-mpush/pkg/protocol"
)

// ServerHandler 服务端连接处理器
//
// 激活时注册连接，读到包时交给分发器，失效时注销并关闭连接。
type ServerHandler struct {
	manager  pkgif.ConnectionManager
	receiver pkgif.PacketReceiver
}

var _ pipeline.ChannelHandler = (*ServerHandler)(nil)

// NewServerHandler 创建服务端连接处理器
func NewServerHandler(manager pkgif.ConnectionManager, receiver pkgif.PacketReceiver) *ServerHandler {
	return &ServerHandler{manager: manager, receiver: receiver}
}

// Manager 返回连接注册表
func (h *ServerHandler) Manager() pkgif.ConnectionManager {
	return h.manager
}

// ChannelActive 实现 pipeline.ChannelHandler
func (h *ServerHandler) ChannelActive(conn pkgif.Connection) {
	h.manager.Add(conn)
}

// ChannelRead 实现 pipeline.ChannelHandler
func (h *ServerHandler) ChannelRead(ctx context.Context, conn pkgif.Connection, p *protocol.Packet) error {
	if p.IsHeartbeat() {
		return nil
	}
	return h.receiver.OnReceive(ctx, p, conn)
}

// ChannelInactive 实现 pipeline.ChannelHandler
func (h *ServerHandler) ChannelInactive(conn pkgif.Connection) {
	h.manager.RemoveAndClose(conn.ID())
}
