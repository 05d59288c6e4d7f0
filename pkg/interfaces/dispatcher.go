package interfaces

import (
	"context"

	"github.com/mpush/go-mpush/pkg/protocol"
)

// MessageHandler 处理某一命令字的消息
type MessageHandler interface {
	Handle(ctx context.Context, p *protocol.Packet, conn Connection) error
}

// MessageHandlerFunc 函数适配器
type MessageHandlerFunc func(ctx context.Context, p *protocol.Packet, conn Connection) error

// Handle 实现 MessageHandler
func (f MessageHandlerFunc) Handle(ctx context.Context, p *protocol.Packet, conn Connection) error {
	return f(ctx, p, conn)
}

// PacketReceiver 接收解码后的包，由命令分发器实现
type PacketReceiver interface {
	OnReceive(ctx context.Context, p *protocol.Packet, conn Connection) error
}
