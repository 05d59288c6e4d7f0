package handler

import (
	"context"
	"fmt"

	pkgif "github.com/mpush/go-mpush/pkg/interfaces"
	"github.com/mpush/go-mpush/pkg/lib/log"
	"github.com/mpush/go-mpush/pkg/protocol"
)

var logger = log.Logger("core/handler")

// Pusher 把网关推送消息投递给在线用户
type Pusher interface {
	Push(ctx context.Context, msg *GatewayPushMessage) error
}

// PusherFunc 函数适配器
type PusherFunc func(ctx context.Context, msg *GatewayPushMessage) error

// Push 实现 Pusher
func (f PusherFunc) Push(ctx context.Context, msg *GatewayPushMessage) error {
	return f(ctx, msg)
}

// NopPusher 只记录日志的 Pusher，用户路由由集群其他组件提供
type NopPusher struct{}

// Push 实现 Pusher
func (NopPusher) Push(_ context.Context, msg *GatewayPushMessage) error {
	logger.Debug("推送消息（无投递目标）", "user", msg.UserID, "task", msg.TaskID, "bytes", len(msg.Content))
	return nil
}

// ============================================================================
//                              GatewayPushHandler 实现
// ============================================================================

// GatewayPushHandler 处理 GATEWAY_PUSH
//
// 解码、校验后交给 Pusher，并回复 OK 或 ERROR。
// 连接不可写时丢弃回复，不再向慢连接堆积数据。
type GatewayPushHandler struct {
	pusher Pusher

	// onReplyDropped 因不可写丢弃回复时回调
	onReplyDropped func()
}

var _ pkgif.MessageHandler = (*GatewayPushHandler)(nil)

// NewGatewayPushHandler 创建处理器，pusher 为 nil 时使用 NopPusher
func NewGatewayPushHandler(pusher Pusher) *GatewayPushHandler {
	if pusher == nil {
		pusher = NopPusher{}
	}
	return &GatewayPushHandler{pusher: pusher}
}

// OnReplyDropped 设置回复丢弃回调
func (h *GatewayPushHandler) OnReplyDropped(fn func()) {
	h.onReplyDropped = fn
}

// Handle 实现 MessageHandler
func (h *GatewayPushHandler) Handle(ctx context.Context, p *protocol.Packet, conn pkgif.Connection) error {
	var msg GatewayPushMessage
	if err := Unmarshal(p.Body, &msg); err != nil {
		h.replyError(p, conn, "", CodeDecodeFailed, err)
		return fmt.Errorf("decode gateway push: %w", err)
	}
	if err := msg.Validate(); err != nil {
		h.replyError(p, conn, msg.TaskID, CodeInvalid, err)
		return err
	}
	if err := h.pusher.Push(ctx, &msg); err != nil {
		h.replyError(p, conn, msg.TaskID, CodePushFailed, err)
		return fmt.Errorf("push: %w", err)
	}

	body, err := Marshal(&OkMessage{TaskID: msg.TaskID})
	if err != nil {
		return fmt.Errorf("encode ok: %w", err)
	}
	h.reply(conn, p.Response(protocol.CmdOK, body))
	return nil
}

func (h *GatewayPushHandler) replyError(p *protocol.Packet, conn pkgif.Connection, taskID string, code byte, cause error) {
	body, err := Marshal(&ErrorMessage{TaskID: taskID, Code: code, Reason: cause.Error()})
	if err != nil {
		logger.Warn("编码错误响应失败", "error", err)
		return
	}
	h.reply(conn, p.Response(protocol.CmdError, body))
}

func (h *GatewayPushHandler) reply(conn pkgif.Connection, resp *protocol.Packet) {
	if !conn.IsWritable() {
		logger.Warn("连接不可写，丢弃响应", "conn", log.TruncateID(conn.ID(), 8),
			"cmd", resp.Cmd.String(), "pending", conn.PendingBytes())
		if h.onReplyDropped != nil {
			h.onReplyDropped()
		}
		return
	}
	if err := conn.Send(resp); err != nil {
		logger.Debug("发送响应失败", "conn", log.TruncateID(conn.ID(), 8), "error", err)
	}
}
