// Package provider 提供默认的 socket 提供者与 socket 选项工具
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/pion/transport/v3/udp"

	pkgif "github.com/mpush/go-mpush/pkg/interfaces"
	"github.com/mpush/go-mpush/pkg/lib/log"
)

var logger = log.Logger("core/transport/provider")

// DefaultName 默认提供者名称
const DefaultName = "default"

var (
	// ErrProviderMismatch 通道工厂与选择器提供者不属于同一传输族
	ErrProviderMismatch = errors.New("selector provider does not match channel factory")

	// ErrAcceptorClosed 接收器已关闭
	ErrAcceptorClosed = errors.New("acceptor closed")
)

// ============================================================================
//                              Default 提供者
// ============================================================================

// Default 基于操作系统 socket 的提供者
//
// 流式 socket 由 net.ListenConfig 创建；按远端分流的数据报监听器由
// pion/transport 的 udp 包实现，SCTP 关联建立在其产出的 net.Conn 之上。
type Default struct {
	lc net.ListenConfig

	// Backlog 数据报会话监听器的待接受队列长度，0 使用库默认值
	Backlog int

	// ReusePort 流式监听器设置 SO_REUSEPORT，允许多个网关进程共享端口
	// 不支持的平台上被忽略
	ReusePort bool
}

var _ pkgif.SelectorProvider = (*Default)(nil)

// NewDefault 创建默认提供者
func NewDefault() *Default {
	return &Default{}
}

// Name 实现 SelectorProvider
func (d *Default) Name() string {
	return DefaultName
}

// ListenStream 实现 SelectorProvider
func (d *Default) ListenStream(ctx context.Context, address string) (net.Listener, error) {
	lc := d.lc
	if d.ReusePort {
		lc.Control = reusePortControl
	}
	l, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", address, err)
	}
	logger.Debug("流式 socket 已打开", "addr", l.Addr().String())
	return l, nil
}

// ListenPacket 实现 SelectorProvider
func (d *Default) ListenPacket(ctx context.Context, address string) (net.PacketConn, error) {
	pc, err := d.lc.ListenPacket(ctx, "udp", address)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", address, err)
	}
	logger.Debug("数据报 socket 已打开", "addr", pc.LocalAddr().String())
	return pc, nil
}

// ListenDatagramSessions 实现 SelectorProvider
func (d *Default) ListenDatagramSessions(ctx context.Context, address string) (net.Listener, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	laddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("resolve udp %s: %w", address, err)
	}
	lc := udp.ListenConfig{Backlog: d.Backlog}
	l, err := lc.Listen("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp sessions %s: %w", address, err)
	}
	logger.Debug("数据报会话监听器已打开", "addr", l.Addr().String())
	return l, nil
}

// ============================================================================
//                              Socket 选项
// ============================================================================

type bufferSetter interface {
	SetReadBuffer(bytes int) error
	SetWriteBuffer(bytes int) error
}

// ApplySocketOptions 将发送/接收缓冲设置应用到 c
//
// 只设置大于 0 的值；c 不支持缓冲设置时直接忽略。
func ApplySocketOptions(c any, opts pkgif.SocketOptions) {
	s, ok := c.(bufferSetter)
	if !ok {
		return
	}
	if opts.SendBuffer > 0 {
		if err := s.SetWriteBuffer(opts.SendBuffer); err != nil {
			logger.Warn("设置发送缓冲失败", "size", opts.SendBuffer, "error", err)
		}
	}
	if opts.ReceiveBuffer > 0 {
		if err := s.SetReadBuffer(opts.ReceiveBuffer); err != nil {
			logger.Warn("设置接收缓冲失败", "size", opts.ReceiveBuffer, "error", err)
		}
	}
}
