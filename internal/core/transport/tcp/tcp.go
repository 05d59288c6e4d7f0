// Package tcp 提供 Stream 传输族的通道工厂
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/mpush/go-mpush/internal/core/transport/provider"
	pkgif "github.com/mpush/go-mpush/pkg/interfaces"
	"github.com/mpush/go-mpush/pkg/lib/log"
)

var logger = log.Logger("core/transport/tcp")

// Name 工厂名称
const Name = "tcp"

// keepAlivePeriod 子连接 TCP keepalive 周期
const keepAlivePeriod = 30 * time.Second

// ============================================================================
//                              Factory 实现
// ============================================================================

// Factory TCP 通道工厂
//
// 任何能打开流式 socket 的提供者都可以配对，默认提供者即可。
type Factory struct{}

var _ pkgif.ChannelFactory = (*Factory)(nil)

// NewFactory 创建 TCP 通道工厂
func NewFactory() *Factory {
	return &Factory{}
}

// Kind 实现 ChannelFactory
func (f *Factory) Kind() pkgif.TransportKind {
	return pkgif.TransportStream
}

// Name 实现 ChannelFactory
func (f *Factory) Name() string {
	return Name
}

// NewAcceptor 实现 ChannelFactory
func (f *Factory) NewAcceptor(ctx context.Context, p pkgif.SelectorProvider, address string, opts pkgif.SocketOptions) (pkgif.Acceptor, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil provider for %s", provider.ErrProviderMismatch, Name)
	}
	l, err := p.ListenStream(ctx, address)
	if err != nil {
		return nil, err
	}
	logger.Info("TCP 监听已启动", "addr", l.Addr().String(), "provider", p.Name())
	return &Acceptor{listener: l, opts: opts}, nil
}

// ============================================================================
//                              Acceptor 实现
// ============================================================================

// Acceptor TCP 接收器
type Acceptor struct {
	listener net.Listener
	opts     pkgif.SocketOptions
	closed   atomic.Bool
}

var _ pkgif.Acceptor = (*Acceptor)(nil)

// Accept 实现 Acceptor
//
// ctx 结束时关闭底层监听器以解除阻塞。
func (a *Acceptor) Accept(ctx context.Context) (net.Conn, error) {
	if a.closed.Load() {
		return nil, provider.ErrAcceptorClosed
	}

	stop := context.AfterFunc(ctx, func() { _ = a.Close() })
	defer stop()

	conn, err := a.listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if a.closed.Load() || errors.Is(err, net.ErrClosed) {
			return nil, provider.ErrAcceptorClosed
		}
		return nil, fmt.Errorf("accept: %w", err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(keepAlivePeriod)
	}
	provider.ApplySocketOptions(conn, a.opts)
	return conn, nil
}

// Addr 实现 Acceptor
func (a *Acceptor) Addr() net.Addr {
	return a.listener.Addr()
}

// Close 实现 Acceptor
func (a *Acceptor) Close() error {
	if a.closed.CompareAndSwap(false, true) {
		return a.listener.Close()
	}
	return nil
}

// ============================================================================
//                              客户端
// ============================================================================

// Dial 拨号到 TCP 网关
func Dial(ctx context.Context, address string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", address, err)
	}
	return conn, nil
}
