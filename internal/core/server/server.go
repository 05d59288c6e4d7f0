package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mpush/go-mpush/internal/core/connection"
	"github.com/mpush/go-mpush/internal/core/pipeline"
	"github.com/mpush/go-mpush/internal/core/shaping"
	"github.com/mpush/go-mpush/internal/core/transport/provider"
	pkgif "github.com/mpush/go-mpush/pkg/interfaces"
	"github.com/mpush/go-mpush/pkg/lib/log"
	"github.com/mpush/go-mpush/pkg/protocol"
)

var logger = log.Logger("core/server")

var (
	// ErrServerStarted 服务端已启动
	ErrServerStarted = errors.New("server already started")

	// ErrServerClosed 服务端已停止，不能再次启动
	ErrServerClosed = errors.New("server closed")

	// ErrBind 绑定失败
	ErrBind = errors.New("bind failed")
)

const (
	stateCreated int32 = iota
	stateStarting
	stateStarted
	stateStopped
)

// accept 失败后的退避上限
const maxAcceptBackoff = time.Second

// ============================================================================
//                              Server 实现
// ============================================================================

// Server 通用接入服务端
type Server struct {
	hooks    Hooks
	address  string
	clock    clock.Clock
	observer Observer

	state atomic.Int32

	mu       sync.Mutex
	acceptor pkgif.Acceptor
	pipe     *pipeline.Pipeline
	workers  *workerPool
	opts     ChildOptions
	conns    map[string]*connection.Conn
	cancel   context.CancelFunc

	bossWG sync.WaitGroup
	connWG sync.WaitGroup
}

// Option 服务端选项
type Option func(*Server)

// WithClock 注入时钟
func WithClock(clk clock.Clock) Option {
	return func(s *Server) {
		s.clock = clk
	}
}

// WithObserver 注入观察者
func WithObserver(o Observer) Option {
	return func(s *Server) {
		s.observer = o
	}
}

// New 创建服务端，address 为 host:port
func New(address string, hooks Hooks, opts ...Option) *Server {
	s := &Server{
		hooks:   hooks,
		address: address,
		clock:   clock.New(),
		conns:   make(map[string]*connection.Conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Address 配置的绑定地址
func (s *Server) Address() string {
	return s.address
}

// Addr 实际监听地址，未启动时返回 nil
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acceptor == nil {
		return nil
	}
	return s.acceptor.Addr()
}

// Pipeline 返回已组装的处理链，未启动时返回 nil
func (s *Server) Pipeline() *pipeline.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipe
}

// ChildOptions 返回生效的子连接选项
func (s *Server) ChildOptions() ChildOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

// IsRunning 是否正在服务
func (s *Server) IsRunning() bool {
	return s.state.Load() == stateStarted
}

// Connections 当前由服务端持有的连接数
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// ============================================================================
//                              启动
// ============================================================================

// Start 组装处理链、绑定并启动 accept 循环
//
// 绑定失败时通知 listener 并返回包装了 ErrBind 的错误。
func (s *Server) Start(ctx context.Context, listener pkgif.Listener) error {
	if !s.state.CompareAndSwap(stateCreated, stateStarting) {
		err := ErrServerStarted
		if s.state.Load() == stateStopped {
			err = ErrServerClosed
		}
		pkgif.NotifyFailure(listener, err)
		return err
	}

	if err := s.start(ctx); err != nil {
		s.state.Store(stateStopped)
		logger.Error("服务启动失败", "address", s.address, "error", err)
		pkgif.NotifyFailure(listener, err)
		return err
	}

	s.state.Store(stateStarted)
	addr := s.Addr()
	logger.Info("服务已启动", "address", addr.String(),
		"transport", s.hooks.ChannelFactory().Kind().String(),
		"workers", s.workers.Size())
	pkgif.NotifySuccess(listener, addr)
	return nil
}

func (s *Server) start(ctx context.Context) error {
	pipe := pipeline.New()
	workers := newWorkerPool(s.hooks.WorkerThreadName(), s.hooks.WorkerThreadNum())

	if h := s.hooks.ChannelHandler(); h != nil {
		if err := pipe.SetHandler(&workerHandler{next: h, pool: workers}); err != nil {
			workers.Shutdown()
			return err
		}
	}
	if err := s.hooks.InitPipeline(pipe); err != nil {
		workers.Shutdown()
		return fmt.Errorf("init pipeline: %w", err)
	}
	pipe.Seal()

	opts := ChildOptions{MaxPacketSize: protocol.DefaultMaxPacketSize}
	s.hooks.InitOptions(&opts)

	factory, sp := s.hooks.ChannelFactory(), s.hooks.SelectorProvider()
	acceptor, err := factory.NewAcceptor(ctx, sp, s.address, opts.Socket)
	if err != nil {
		workers.Shutdown()
		return fmt.Errorf("%w: %s via %s/%s: %w", ErrBind, s.address, factory.Name(), providerName(sp), err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.acceptor = acceptor
	s.pipe = pipe
	s.workers = workers
	s.opts = opts
	s.cancel = cancel
	s.mu.Unlock()

	s.bossWG.Add(1)
	go pprof.Do(runCtx, pprof.Labels(shaping.ThreadLabel, s.hooks.BossThreadName()), func(ctx context.Context) {
		defer s.bossWG.Done()
		s.acceptLoop(ctx, acceptor)
	})

	if hk, ok := s.hooks.(Housekeeper); ok && hk.HousekeepingInterval() > 0 {
		s.bossWG.Add(1)
		go func() {
			defer s.bossWG.Done()
			s.housekeepLoop(runCtx, hk)
		}()
	}
	return nil
}

// ============================================================================
//                              停止
// ============================================================================

// Stop 关闭接收器与所有连接，等待 goroutine 退出
//
// 可重复调用，未启动或已停止时直接通知成功。
func (s *Server) Stop(listener pkgif.Listener) error {
	if s.state.CompareAndSwap(stateCreated, stateStopped) {
		pkgif.NotifySuccess(listener)
		return nil
	}
	if !s.state.CompareAndSwap(stateStarted, stateStopped) {
		pkgif.NotifySuccess(listener)
		return nil
	}

	s.mu.Lock()
	acceptor, cancel, workers := s.acceptor, s.cancel, s.workers
	s.mu.Unlock()

	cancel()
	err := acceptor.Close()
	s.bossWG.Wait()

	s.mu.Lock()
	conns := make([]*connection.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	s.connWG.Wait()
	workers.Shutdown()

	if err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Warn("关闭接收器失败", "error", err)
		pkgif.NotifyFailure(listener, err)
		return fmt.Errorf("close acceptor: %w", err)
	}
	logger.Info("服务已停止", "address", s.address, "closedConns", len(conns))
	pkgif.NotifySuccess(listener)
	return nil
}

// ============================================================================
//                              boss 循环
// ============================================================================

func (s *Server) acceptLoop(ctx context.Context, acceptor pkgif.Acceptor) {
	kind := s.hooks.ChannelFactory().Kind()
	var backoff time.Duration

	for {
		raw, err := acceptor.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || s.state.Load() == stateStopped {
				return
			}
			if errors.Is(err, provider.ErrAcceptorClosed) {
				logger.Warn("接收器已关闭，accept 循环退出", "address", s.address)
				return
			}
			s.acceptError()
			backoff = nextBackoff(backoff)
			logger.Warn("accept 失败，稍后重试", "error", err, "backoff", backoff)
			select {
			case <-s.clock.After(backoff):
			case <-ctx.Done():
				return
			}
			continue
		}
		backoff = 0

		c := connection.New(raw, connection.Options{
			Kind:                 kind,
			WaterMark:            s.opts.WaterMark,
			Pipeline:             s.pipe,
			OnWritabilityChanged: s.writabilityChanged,
			Clock:                s.clock,
		})
		s.track(c)
		if s.observer != nil {
			s.observer.Accepted(kind.String())
		}
		logger.Debug("接受新连接", "conn", log.TruncateID(c.ID(), 8), "remote", addrString(raw.RemoteAddr()))

		s.connWG.Add(2)
		go func() {
			defer s.connWG.Done()
			c.RunWriter()
		}()
		go s.serveConn(c)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > maxAcceptBackoff {
		d = maxAcceptBackoff
	}
	return d
}

func (s *Server) acceptError() {
	if s.observer != nil {
		s.observer.AcceptError()
	}
}

func (s *Server) housekeepLoop(ctx context.Context, hk Housekeeper) {
	ticker := s.clock.Ticker(hk.HousekeepingInterval())
	defer ticker.Stop()

	inline := s.hooks.IORatio() >= 100
	for {
		select {
		case now := <-ticker.C:
			if inline {
				hk.Housekeep(now)
			} else {
				s.workers.Execute("housekeeping", func() { hk.Housekeep(now) })
			}
		case <-ctx.Done():
			return
		}
	}
}

// ============================================================================
//                              连接
// ============================================================================

// serveConn 连接读 goroutine
func (s *Server) serveConn(c *connection.Conn) {
	defer s.connWG.Done()
	defer func() {
		_ = c.Close()
		s.pipe.FireInactive(c)
		s.untrack(c)
	}()

	s.pipe.FireActive(c)

	dec := protocol.NewDecoder(c.Raw(), s.opts.MaxPacketSize)
	for {
		p, err := dec.Decode()
		if err != nil {
			if !c.IsClosed() {
				logger.Debug("读取结束", "conn", log.TruncateID(c.ID(), 8), "error", err)
			}
			return
		}
		c.Touch()
		if err := s.pipe.FireRead(c.Context(), c, p); err != nil {
			if c.IsClosed() {
				return
			}
			logger.Debug("入站处理失败", "conn", log.TruncateID(c.ID(), 8), "cmd", p.Cmd.String(), "error", err)
		}
	}
}

func (s *Server) track(c *connection.Conn) {
	s.mu.Lock()
	s.conns[c.ID()] = c
	s.mu.Unlock()
}

func (s *Server) untrack(c *connection.Conn) {
	s.mu.Lock()
	delete(s.conns, c.ID())
	s.mu.Unlock()
}

func (s *Server) writabilityChanged(c *connection.Conn, writable bool) {
	logger.Debug("连接可写状态变化", "conn", log.TruncateID(c.ID(), 8),
		"writable", writable, "pending", c.PendingBytes())
	if s.observer != nil {
		s.observer.WritabilityChanged(writable)
	}
}

func providerName(p pkgif.SelectorProvider) string {
	if p == nil {
		return "<nil>"
	}
	return p.Name()
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// ============================================================================
//                              worker 调度
// ============================================================================

// workerHandler 把尾部处理器的事件按连接亲和提交到 worker 池
type workerHandler struct {
	next pipeline.ChannelHandler
	pool *workerPool
}

func (h *workerHandler) ChannelActive(conn pkgif.Connection) {
	h.pool.Execute(conn.ID(), func() { h.next.ChannelActive(conn) })
}

func (h *workerHandler) ChannelRead(ctx context.Context, conn pkgif.Connection, p *protocol.Packet) error {
	h.pool.Execute(conn.ID(), func() {
		if err := h.next.ChannelRead(ctx, conn, p); err != nil {
			logger.Debug("处理入站包失败", "conn", log.TruncateID(conn.ID(), 8), "cmd", p.Cmd.String(), "error", err)
		}
	})
	return nil
}

func (h *workerHandler) ChannelInactive(conn pkgif.Connection) {
	h.pool.Execute(conn.ID(), func() { h.next.ChannelInactive(conn) })
}
