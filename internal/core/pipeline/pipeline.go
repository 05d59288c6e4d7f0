// Package pipeline 实现连接的处理链
//
// 处理链由有序的具名阶段和一个尾部 ChannelHandler 组成：
//
//   - 入站阶段：在连接的读 goroutine 上按添加顺序执行，之后交给尾部处理器
//   - 出站阶段：在连接的写 goroutine 上按添加的逆序执行，之后写出
//   - 生命周期阶段：连接激活/失效时按添加顺序通知
//
// 阶段可以阻塞当前 goroutine（例如流量整形的等待），这正是对单条连接施加背压的方式。
// 处理链在服务启动前组装完成，Seal 之后不再变化，可被所有连接共享。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pkgif "github.com/mpush/go-mpush/pkg/interfaces"
	"github.com/mpush/go-mpush/pkg/protocol"
)

var (
	// ErrDuplicateStage 阶段名重复
	ErrDuplicateStage = errors.New("duplicate pipeline stage")

	// ErrSealed 处理链已封闭
	ErrSealed = errors.New("pipeline sealed")

	// ErrDrop 阶段要求丢弃当前包，不视为错误
	ErrDrop = errors.New("packet dropped by stage")
)

// Stage 处理链阶段
type Stage interface {
	Name() string
}

// InboundStage 入站阶段
type InboundStage interface {
	Stage
	Inbound(ctx context.Context, conn pkgif.Connection, p *protocol.Packet) error
}

// OutboundStage 出站阶段
type OutboundStage interface {
	Stage
	Outbound(ctx context.Context, conn pkgif.Connection, p *protocol.Packet) error
}

// LifecycleStage 关心连接激活/失效的阶段
type LifecycleStage interface {
	Stage
	Active(conn pkgif.Connection)
	Inactive(conn pkgif.Connection)
}

// ChannelHandler 处理链尾部的连接处理器
type ChannelHandler interface {
	ChannelActive(conn pkgif.Connection)
	ChannelRead(ctx context.Context, conn pkgif.Connection, p *protocol.Packet) error
	ChannelInactive(conn pkgif.Connection)
}

// ============================================================================
//                              Pipeline 实现
// ============================================================================

// Pipeline 处理链
type Pipeline struct {
	mu      sync.RWMutex
	stages  []Stage
	handler ChannelHandler
	sealed  bool
}

// New 创建空处理链
func New() *Pipeline {
	return &Pipeline{}
}

// AddLast 在末尾追加阶段
func (p *Pipeline) AddLast(s Stage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sealed {
		return ErrSealed
	}
	for _, existing := range p.stages {
		if existing.Name() == s.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateStage, s.Name())
		}
	}
	p.stages = append(p.stages, s)
	return nil
}

// SetHandler 设置尾部处理器
func (p *Pipeline) SetHandler(h ChannelHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sealed {
		return ErrSealed
	}
	p.handler = h
	return nil
}

// Seal 封闭处理链，之后只读
func (p *Pipeline) Seal() {
	p.mu.Lock()
	p.sealed = true
	p.mu.Unlock()
}

// Names 按顺序返回阶段名
func (p *Pipeline) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Handler 返回尾部处理器
func (p *Pipeline) Handler() ChannelHandler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.handler
}

func (p *Pipeline) snapshot() ([]Stage, ChannelHandler) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.sealed {
		return p.stages, p.handler
	}
	stages := make([]Stage, len(p.stages))
	copy(stages, p.stages)
	return stages, p.handler
}

// ============================================================================
//                              事件传播
// ============================================================================

// FireActive 通知连接激活
func (p *Pipeline) FireActive(conn pkgif.Connection) {
	stages, h := p.snapshot()
	for _, s := range stages {
		if ls, ok := s.(LifecycleStage); ok {
			ls.Active(conn)
		}
	}
	if h != nil {
		h.ChannelActive(conn)
	}
}

// FireInactive 通知连接失效
func (p *Pipeline) FireInactive(conn pkgif.Connection) {
	stages, h := p.snapshot()
	for _, s := range stages {
		if ls, ok := s.(LifecycleStage); ok {
			ls.Inactive(conn)
		}
	}
	if h != nil {
		h.ChannelInactive(conn)
	}
}

// FireRead 依次执行入站阶段，再交给尾部处理器
//
// 阶段返回 ErrDrop 时停止传播并返回 nil。
func (p *Pipeline) FireRead(ctx context.Context, conn pkgif.Connection, pkt *protocol.Packet) error {
	stages, h := p.snapshot()
	for _, s := range stages {
		is, ok := s.(InboundStage)
		if !ok {
			continue
		}
		if err := is.Inbound(ctx, conn, pkt); err != nil {
			if errors.Is(err, ErrDrop) {
				return nil
			}
			return fmt.Errorf("inbound %s: %w", s.Name(), err)
		}
	}
	if h == nil {
		return nil
	}
	return h.ChannelRead(ctx, conn, pkt)
}

// FireWrite 按逆序执行出站阶段
//
// 返回 ErrDrop 表示该包不应写出。
func (p *Pipeline) FireWrite(ctx context.Context, conn pkgif.Connection, pkt *protocol.Packet) error {
	stages, _ := p.snapshot()
	for i := len(stages) - 1; i >= 0; i-- {
		os, ok := stages[i].(OutboundStage)
		if !ok {
			continue
		}
		if err := os.Outbound(ctx, conn, pkt); err != nil {
			if errors.Is(err, ErrDrop) {
				return err
			}
			return fmt.Errorf("outbound %s: %w", stages[i].Name(), err)
		}
	}
	return nil
}
