// Package sctp 提供 MultiStreaming 传输族的通道工厂
//
// SCTP 运行在 UDP 之上（pion/sctp）。每个远端地址一条关联，
// 关联上客户端打开的每条流是一条网关逻辑连接。
package sctp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/sctp"

	"github.com/mpush/go-mpush/internal/core/transport/provider"
	pkgif "github.com/mpush/go-mpush/pkg/interfaces"
	"github.com/mpush/go-mpush/pkg/lib/log"
)

var logger = log.Logger("core/transport/sctp")

const (
	// FactoryName 工厂名称
	FactoryName = "sctp"

	// MaxMessageSize 单条 SCTP 消息上限，写入时按此切分
	MaxMessageSize = 64 * 1024
)

// ============================================================================
//                              Factory 实现
// ============================================================================

// Factory SCTP 通道工厂
//
// 使用提供者的数据报会话监听器，默认提供者即可，无需专用提供者。
type Factory struct {
	loggerFactory logging.LoggerFactory
}

var _ pkgif.ChannelFactory = (*Factory)(nil)

// NewFactory 创建 SCTP 通道工厂
func NewFactory() *Factory {
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = logging.LogLevelWarn
	return &Factory{loggerFactory: lf}
}

// Kind 实现 ChannelFactory
func (f *Factory) Kind() pkgif.TransportKind {
	return pkgif.TransportMultiStreaming
}

// Name 实现 ChannelFactory
func (f *Factory) Name() string {
	return FactoryName
}

// NewAcceptor 实现 ChannelFactory
func (f *Factory) NewAcceptor(ctx context.Context, p pkgif.SelectorProvider, address string, opts pkgif.SocketOptions) (pkgif.Acceptor, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil provider for %s", provider.ErrProviderMismatch, FactoryName)
	}

	sessions, err := p.ListenDatagramSessions(ctx, address)
	if err != nil {
		return nil, err
	}

	a := newAcceptor(sessions, f.loggerFactory, opts)
	logger.Info("SCTP 监听已启动", "addr", sessions.Addr().String(), "provider", p.Name())
	return a, nil
}

// ============================================================================
//                              Acceptor 实现
// ============================================================================

// Acceptor SCTP 接收器
type Acceptor struct {
	sessions      net.Listener
	loggerFactory logging.LoggerFactory
	opts          pkgif.SocketOptions

	mu     sync.Mutex
	assocs map[*sctp.Association]net.Conn

	conns  chan net.Conn
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

var _ pkgif.Acceptor = (*Acceptor)(nil)

func newAcceptor(sessions net.Listener, lf logging.LoggerFactory, opts pkgif.SocketOptions) *Acceptor {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Acceptor{
		sessions:      sessions,
		loggerFactory: lf,
		opts:          opts,
		assocs:        make(map[*sctp.Association]net.Conn),
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
		sess, err := a.sessions.Accept()
		if err != nil {
			if a.ctx.Err() == nil {
				logger.Warn("接受 SCTP 会话失败", "error", err)
			}
			return
		}
		provider.ApplySocketOptions(sess, a.opts)
		a.wg.Add(1)
		go a.serveSession(sess)
	}
}

// serveSession 在会话上完成 SCTP 握手并持续接受流
func (a *Acceptor) serveSession(sess net.Conn) {
	defer a.wg.Done()

	assoc, err := sctp.Server(sctp.Config{
		NetConn:        sess,
		MaxMessageSize: MaxMessageSize,
		LoggerFactory:  a.loggerFactory,
	})
	if err != nil {
		logger.Debug("SCTP 握手失败", "remote", sess.RemoteAddr().String(), "error", err)
		_ = sess.Close()
		return
	}

	if !a.track(assoc, sess) {
		_ = assoc.Close()
		_ = sess.Close()
		return
	}
	defer a.untrack(assoc)

	for {
		s, err := assoc.AcceptStream()
		if err != nil {
			logger.Debug("SCTP 关联结束", "remote", sess.RemoteAddr().String(), "error", err)
			_ = assoc.Close()
			_ = sess.Close()
			return
		}
		c := newStreamConn(s, sess.LocalAddr(), sess.RemoteAddr(), nil)
		select {
		case a.conns <- c:
		case <-a.ctx.Done():
			_ = c.Close()
			return
		}
	}
}

func (a *Acceptor) track(assoc *sctp.Association, sess net.Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ctx.Err() != nil {
		return false
	}
	a.assocs[assoc] = sess
	return true
}

func (a *Acceptor) untrack(assoc *sctp.Association) {
	a.mu.Lock()
	delete(a.assocs, assoc)
	a.mu.Unlock()
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
	return a.sessions.Addr()
}

// Close 实现 Acceptor，同时关闭所有关联
func (a *Acceptor) Close() error {
	var err error
	a.once.Do(func() {
		a.mu.Lock()
		a.cancel()
		for assoc, sess := range a.assocs {
			_ = assoc.Close()
			_ = sess.Close()
		}
		a.mu.Unlock()

		err = a.sessions.Close()
		a.wg.Wait()
	})
	return err
}

// ============================================================================
//                              流连接
// ============================================================================

// streamConn 把 SCTP 流适配为字节流 net.Conn
//
// SCTP 按消息读写：读取时整条消息先进入内部缓冲，写入时按 MaxMessageSize 切分。
// 同一条流内消息有序，因此拼接后的字节序与写入一致。
type streamConn struct {
	stream        *sctp.Stream
	local, remote net.Addr

	rbuf    []byte
	pending []byte

	// onClose 客户端连接关闭时一并释放关联与 socket
	onClose func() error
	once    sync.Once
}

var _ net.Conn = (*streamConn)(nil)

func newStreamConn(s *sctp.Stream, local, remote net.Addr, onClose func() error) *streamConn {
	return &streamConn{
		stream:  s,
		local:   local,
		remote:  remote,
		rbuf:    make([]byte, MaxMessageSize),
		onClose: onClose,
	}
}

func (c *streamConn) Read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		n, err := c.stream.Read(c.rbuf)
		if err != nil {
			return 0, err
		}
		c.pending = c.rbuf[:n]
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *streamConn) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		end := written + MaxMessageSize
		if end > len(p) {
			end = len(p)
		}
		n, err := c.stream.Write(p[written:end])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (c *streamConn) Close() error {
	var err error
	c.once.Do(func() {
		err = c.stream.Close()
		if c.onClose != nil {
			if cerr := c.onClose(); err == nil {
				err = cerr
			}
		}
	})
	return err
}

func (c *streamConn) LocalAddr() net.Addr  { return c.local }
func (c *streamConn) RemoteAddr() net.Addr { return c.remote }

// 流不支持截止时间，超时由连接空闲检测负责
func (c *streamConn) SetDeadline(time.Time) error      { return nil }
func (c *streamConn) SetReadDeadline(time.Time) error  { return nil }
func (c *streamConn) SetWriteDeadline(time.Time) error { return nil }

// ============================================================================
//                              客户端
// ============================================================================

// ErrDialCanceled 握手完成前 ctx 结束
var ErrDialCanceled = errors.New("sctp dial canceled")

// Dial 拨号到 SCTP 网关并打开 streamID 对应的流
//
// 流在首次写入后才会被服务端接受。
func Dial(ctx context.Context, address string, streamID uint16) (net.Conn, error) {
	var d net.Dialer
	udpConn, err := d.DialContext(ctx, "udp", address)
	if err != nil {
		return nil, fmt.Errorf("dial udp %s: %w", address, err)
	}

	type result struct {
		assoc *sctp.Association
		err   error
	}
	done := make(chan result, 1)
	go func() {
		assoc, err := sctp.Client(sctp.Config{
			NetConn:        udpConn,
			MaxMessageSize: MaxMessageSize,
			LoggerFactory:  logging.NewDefaultLoggerFactory(),
		})
		done <- result{assoc, err}
	}()

	var assoc *sctp.Association
	select {
	case r := <-done:
		if r.err != nil {
			_ = udpConn.Close()
			return nil, fmt.Errorf("sctp handshake: %w", r.err)
		}
		assoc = r.assoc
	case <-ctx.Done():
		_ = udpConn.Close()
		go func() {
			if r := <-done; r.assoc != nil {
				_ = r.assoc.Close()
			}
		}()
		return nil, fmt.Errorf("%w: %v", ErrDialCanceled, ctx.Err())
	}

	s, err := assoc.OpenStream(streamID, sctp.PayloadTypeWebRTCBinary)
	if err != nil {
		_ = assoc.Close()
		_ = udpConn.Close()
		return nil, fmt.Errorf("open stream: %w", err)
	}

	release := func() error {
		err := assoc.Close()
		_ = udpConn.Close()
		return err
	}
	return newStreamConn(s, udpConn.LocalAddr(), udpConn.RemoteAddr(), release), nil
}
