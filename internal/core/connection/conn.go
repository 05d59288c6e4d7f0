// Package connection 实现网关连接与服务端连接注册表
package connection

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/mpush/go-mpush/internal/core/pipeline"
	"github.com/mpush/go-mpush/internal/core/watermark"
	pkgif "github.com/mpush/go-mpush/pkg/interfaces"
	"github.com/mpush/go-mpush/pkg/lib/log"
	"github.com/mpush/go-mpush/pkg/protocol"
)

var logger = log.Logger("core/connection")

var (
	// ErrConnectionClosed 连接已关闭
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNilPacket 发送空包
	ErrNilPacket = errors.New("nil packet")
)

// Options 连接参数
type Options struct {
	// Kind 传输类型
	Kind pkgif.TransportKind

	// WaterMark 写缓冲水位线
	WaterMark watermark.WaterMark

	// Pipeline 出站阶段所在的处理链，nil 表示直接写出
	Pipeline *pipeline.Pipeline

	// OnWritabilityChanged 可写状态翻转回调
	OnWritabilityChanged func(c *Conn, writable bool)

	// Clock 时钟，nil 使用系统时钟
	Clock clock.Clock
}

// ============================================================================
//                              Conn 实现
// ============================================================================

// Conn 网关连接
//
// Send 只入队，写 goroutine（RunWriter）负责执行出站阶段并写出；
// 出站队列中尚未写出的字节由水位线跟踪。
type Conn struct {
	id    string
	raw   net.Conn
	kind  pkgif.TransportKind
	pipe  *pipeline.Pipeline
	clock clock.Clock

	tracker *watermark.Tracker

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queue  []*protocol.Packet
	notify chan struct{}

	lastRead  atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ pkgif.Connection = (*Conn)(nil)

// New 包装 raw 为网关连接
func New(raw net.Conn, opts Options) *Conn {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	mark := opts.WaterMark
	if mark.High <= 0 {
		mark = watermark.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:     uuid.NewString(),
		raw:    raw,
		kind:   opts.Kind,
		pipe:   opts.Pipeline,
		clock:  clk,
		ctx:    ctx,
		cancel: cancel,
		notify: make(chan struct{}, 1),
	}
	var onChange func(bool)
	if opts.OnWritabilityChanged != nil {
		onChange = func(w bool) { opts.OnWritabilityChanged(c, w) }
	}
	c.tracker = watermark.NewTracker(mark, onChange)
	c.Touch()
	return c
}

// ID 实现 Connection
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr 实现 Connection
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// LocalAddr 本地地址
func (c *Conn) LocalAddr() net.Addr {
	return c.raw.LocalAddr()
}

// TransportKind 实现 Connection
func (c *Conn) TransportKind() pkgif.TransportKind {
	return c.kind
}

// Raw 返回底层连接，供读 goroutine 解码
func (c *Conn) Raw() net.Conn {
	return c.raw
}

// Context 连接关闭时结束
func (c *Conn) Context() context.Context {
	return c.ctx
}

// Send 实现 Connection
func (c *Conn) Send(p *protocol.Packet) error {
	if p == nil {
		return ErrNilPacket
	}
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	c.tracker.Add(p.Size())
	c.mu.Lock()
	c.queue = append(c.queue, p)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// IsWritable 实现 Connection
func (c *Conn) IsWritable() bool {
	return !c.closed.Load() && c.tracker.IsWritable()
}

// PendingBytes 实现 Connection
func (c *Conn) PendingBytes() int64 {
	return c.tracker.Pending()
}

// WaterMark 返回生效的水位线
func (c *Conn) WaterMark() watermark.WaterMark {
	return c.tracker.WaterMark()
}

// Touch 记录收到数据
func (c *Conn) Touch() {
	c.lastRead.Store(c.clock.Now().UnixNano())
}

// LastReadTime 实现 Connection
func (c *Conn) LastReadTime() time.Time {
	return time.Unix(0, c.lastRead.Load())
}

// IsClosed 实现 Connection
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Close 实现 Connection
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		c.closeErr = c.raw.Close()

		c.mu.Lock()
		dropped := 0
		for _, p := range c.queue {
			dropped += p.Size()
		}
		c.queue = nil
		c.mu.Unlock()
		c.tracker.Release(dropped)

		logger.Debug("连接已关闭", "conn", log.TruncateID(c.id, 8), "remote", addrString(c.raw.RemoteAddr()))
	})
	return c.closeErr
}

// ============================================================================
//                              写 goroutine
// ============================================================================

// RunWriter 执行写循环，连接关闭或写失败时返回
func (c *Conn) RunWriter() {
	w := bufio.NewWriter(c.raw)
	for {
		p, ok := c.next()
		if !ok {
			return
		}
		size := p.Size()

		var err error
		if c.pipe != nil {
			err = c.pipe.FireWrite(c.ctx, c, p)
		}
		if err == nil {
			err = protocol.Encode(w, p)
			if err == nil && c.queueLen() == 0 {
				err = w.Flush()
			}
		}
		c.tracker.Release(size)

		if err != nil {
			if errors.Is(err, pipeline.ErrDrop) {
				continue
			}
			if !c.closed.Load() {
				logger.Debug("写出失败，关闭连接", "conn", log.TruncateID(c.id, 8), "error", err)
			}
			_ = c.Close()
			return
		}
	}
}

func (c *Conn) next() (*protocol.Packet, bool) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			p := c.queue[0]
			c.queue[0] = nil
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return p, true
		}
		c.mu.Unlock()

		select {
		case <-c.notify:
		case <-c.ctx.Done():
			return nil, false
		}
	}
}

func (c *Conn) queueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
