package quic

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/mpush/go-mpush/internal/core/transport/provider"
	pkgif "github.com/mpush/go-mpush/pkg/interfaces"
)

// FactoryName 工厂名称
const FactoryName = "quic"

const (
	// errCodeClosed 正常关闭
	errCodeClosed quic.ApplicationErrorCode = 0

	// errCodeNoStream 握手后未在限定时间内打开流
	errCodeNoStream quic.ApplicationErrorCode = 1
)

// Config QUIC 通道配置
type Config struct {
	// MaxIdleTimeout 连接空闲超时
	MaxIdleTimeout time.Duration

	// KeepAlivePeriod 保活间隔
	KeepAlivePeriod time.Duration

	// StreamAcceptTimeout 连接建立后等待客户端打开流的时间
	StreamAcceptTimeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxIdleTimeout:      30 * time.Second,
		KeepAlivePeriod:     10 * time.Second,
		StreamAcceptTimeout: 10 * time.Second,
	}
}

func (c Config) quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:        c.MaxIdleTimeout,
		KeepAlivePeriod:       c.KeepAlivePeriod,
		MaxIncomingStreams:    16,
		MaxIncomingUniStreams: -1,
	}
}

// ============================================================================
//                              Factory 实现
// ============================================================================

// Factory QUIC 通道工厂，只能与 *Provider 配对
type Factory struct {
	config Config
}

var _ pkgif.ChannelFactory = (*Factory)(nil)

// NewFactory 创建 QUIC 通道工厂
func NewFactory(cfg Config) *Factory {
	return &Factory{config: cfg}
}

// Kind 实现 ChannelFactory
func (f *Factory) Kind() pkgif.TransportKind {
	return pkgif.TransportReliableDatagram
}

// Name 实现 ChannelFactory
func (f *Factory) Name() string {
	return FactoryName
}

// NewAcceptor 实现 ChannelFactory
func (f *Factory) NewAcceptor(ctx context.Context, p pkgif.SelectorProvider, address string, opts pkgif.SocketOptions) (pkgif.Acceptor, error) {
	qp, ok := p.(*Provider)
	if !ok {
		name := "<nil>"
		if p != nil {
			name = p.Name()
		}
		return nil, fmt.Errorf("%w: %s factory requires %s provider, got %s",
			provider.ErrProviderMismatch, FactoryName, ProviderName, name)
	}

	tlsConf, err := GenerateServerTLSConfig()
	if err != nil {
		return nil, err
	}

	ln, tr, err := qp.ListenQUIC(ctx, address, opts, tlsConf, f.config.quicConfig())
	if err != nil {
		return nil, err
	}

	a := newAcceptor(qp, ln, tr, f.config.StreamAcceptTimeout)
	logger.Info("QUIC 监听已启动", "addr", ln.Addr().String())
	return a, nil
}

// ============================================================================
//                              Acceptor 实现
// ============================================================================

// Acceptor QUIC 接收器
//
// 后台循环接受 QUIC 连接，每条连接在独立 goroutine 中等待首条流，
// 慢客户端不会阻塞其他连接的接入。
type Acceptor struct {
	provider *Provider
	ln       *quic.Listener
	tr       *quic.Transport

	streamTimeout time.Duration

	conns  chan net.Conn
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

var _ pkgif.Acceptor = (*Acceptor)(nil)

func newAcceptor(p *Provider, ln *quic.Listener, tr *quic.Transport, streamTimeout time.Duration) *Acceptor {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Acceptor{
		provider:      p,
		ln:            ln,
		tr:            tr,
		streamTimeout: streamTimeout,
		conns:         make(chan net.Conn),
		ctx:           ctx,
		cancel:        cancel,
	}
	a.wg.Add(1)
	go a.acceptLoop()
	return a
}

func (a *Acceptor) acceptLoop() {
	defer a.wg.Done()
	for {
		qc, err := a.ln.Accept(a.ctx)
		if err != nil {
			if a.ctx.Err() == nil {
				logger.Warn("接受 QUIC 连接失败", "error", err)
			}
			return
		}
		a.wg.Add(1)
		go a.awaitStream(qc)
	}
}

func (a *Acceptor) awaitStream(qc quic.Connection) {
	defer a.wg.Done()

	ctx := a.ctx
	if a.streamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(a.ctx, a.streamTimeout)
		defer cancel()
	}

	s, err := qc.AcceptStream(ctx)
	if err != nil {
		logger.Debug("QUIC 连接未打开流", "remote", qc.RemoteAddr().String(), "error", err)
		_ = qc.CloseWithError(errCodeNoStream, "no stream")
		return
	}

	c := newStreamConn(qc, s)
	select {
	case a.conns <- c:
	case <-a.ctx.Done():
		_ = c.Close()
	}
}

// Accept 实现 Acceptor
func (a *Acceptor) Accept(ctx context.Context) (net.Conn, error) {
	select {
	case c := <-a.conns:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.ctx.Done():
		return nil, provider.ErrAcceptorClosed
	}
}

// Addr 实现 Acceptor
func (a *Acceptor) Addr() net.Addr {
	return a.ln.Addr()
}

// Close 实现 Acceptor
func (a *Acceptor) Close() error {
	var err error
	a.once.Do(func() {
		a.cancel()
		err = a.ln.Close()
		a.provider.release(a.tr)
		a.wg.Wait()
	})
	return err
}

// ============================================================================
//                              流连接
// ============================================================================

// streamConn 把 QUIC 流适配为 net.Conn
type streamConn struct {
	quic.Stream
	qc   quic.Connection
	once sync.Once
}

var _ net.Conn = (*streamConn)(nil)

func newStreamConn(qc quic.Connection, s quic.Stream) *streamConn {
	return &streamConn{Stream: s, qc: qc}
}

func (c *streamConn) LocalAddr() net.Addr {
	return c.qc.LocalAddr()
}

func (c *streamConn) RemoteAddr() net.Addr {
	return c.qc.RemoteAddr()
}

// Close 关闭流并关闭所属 QUIC 连接
func (c *streamConn) Close() error {
	var err error
	c.once.Do(func() {
		c.Stream.CancelRead(quic.StreamErrorCode(errCodeClosed))
		err = c.Stream.Close()
		if cerr := c.qc.CloseWithError(errCodeClosed, ""); err == nil {
			err = cerr
		}
	})
	return err
}

// ============================================================================
//                              客户端
// ============================================================================

// Dial 拨号到 QUIC 网关并打开一条流
//
// 流在首次写入后才会被服务端接受。
func Dial(ctx context.Context, address string, cfg Config) (net.Conn, error) {
	qc, err := quic.DialAddr(ctx, address, ClientTLSConfig(), cfg.quicConfig())
	if err != nil {
		return nil, fmt.Errorf("dial quic %s: %w", address, err)
	}
	s, err := qc.OpenStreamSync(ctx)
	if err != nil {
		_ = qc.CloseWithError(errCodeClosed, "")
		return nil, fmt.Errorf("open stream: %w", err)
	}
	return newStreamConn(qc, s), nil
}

// IsClosedError 判断 err 是否由连接正常关闭引起
func IsClosedError(err error) bool {
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.ErrorCode == errCodeClosed
	}
	return errors.Is(err, net.ErrClosed)
}
