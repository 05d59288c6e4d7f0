// Package lifecycle 提供网关生命周期状态机与有序拆除
//
// 状态只能向前推进：
//
//	Uninitialized → Initialized → Serving → Stopping → Stopped
//
// Stopped 之后不能再回到任何前序状态。
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mpush/go-mpush/pkg/lib/log"
)

var logger = log.Logger("core/lifecycle")

// ErrInvalidTransition 非法的状态迁移
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// ============================================================================
//                              阶段定义
// ============================================================================

// Phase 生命周期阶段
type Phase int

const (
	// PhaseUninitialized 已创建，未初始化
	PhaseUninitialized Phase = iota

	// PhaseInitialized 分发器、连接注册表、流量整形已构建
	PhaseInitialized

	// PhaseServing 已绑定端口，正在接受连接
	PhaseServing

	// PhaseStopping 正在按序拆除
	PhaseStopping

	// PhaseStopped 已停止
	PhaseStopped
)

// String 返回阶段字符串表示
func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInitialized:
		return "initialized"
	case PhaseServing:
		return "serving"
	case PhaseStopping:
		return "stopping"
	case PhaseStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", p)
	}
}

// ============================================================================
//                              生命周期协调器
// ============================================================================

// Coordinator 生命周期协调器
//
// 追踪当前阶段，提供阶段 gate，并在阶段变更时通知回调。
type Coordinator struct {
	mu sync.RWMutex

	phase Phase

	// 阶段完成信号，关闭表示已到达该阶段
	phaseSignals map[Phase]chan struct{}

	onPhaseChange []func(old, new Phase)
}

// NewCoordinator 创建生命周期协调器
func NewCoordinator() *Coordinator {
	c := &Coordinator{
		phase:        PhaseUninitialized,
		phaseSignals: make(map[Phase]chan struct{}),
	}
	for p := PhaseUninitialized; p <= PhaseStopped; p++ {
		c.phaseSignals[p] = make(chan struct{})
	}
	close(c.phaseSignals[PhaseUninitialized])
	return c
}

// Phase 返回当前阶段
func (c *Coordinator) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// AdvanceTo 推进到指定阶段
//
// 只能向前推进，跳过的中间阶段信号会一并完成。
// 目标等于当前阶段时返回 nil。
func (c *Coordinator) AdvanceTo(target Phase) error {
	c.mu.Lock()
	if target < c.phase || target > PhaseStopped {
		cur := c.phase
		c.mu.Unlock()
		return fmt.Errorf("%w: current=%s target=%s", ErrInvalidTransition, cur, target)
	}
	if target == c.phase {
		c.mu.Unlock()
		return nil
	}

	old := c.phase
	for p := old + 1; p <= target; p++ {
		close(c.phaseSignals[p])
	}
	c.phase = target

	callbacks := make([]func(old, new Phase), len(c.onPhaseChange))
	copy(callbacks, c.onPhaseChange)
	c.mu.Unlock()

	logger.Info("生命周期阶段推进", "from", old.String(), "to", target.String())
	for _, cb := range callbacks {
		cb(old, target)
	}
	return nil
}

// CompareAndAdvance 当前阶段等于 from 时推进到 to
//
// 返回是否发生了迁移。
func (c *Coordinator) CompareAndAdvance(from, to Phase) bool {
	c.mu.RLock()
	cur := c.phase
	c.mu.RUnlock()
	if cur != from {
		return false
	}

	c.mu.Lock()
	if c.phase != from || to <= from {
		c.mu.Unlock()
		return false
	}
	for p := from + 1; p <= to; p++ {
		close(c.phaseSignals[p])
	}
	c.phase = to
	callbacks := make([]func(old, new Phase), len(c.onPhaseChange))
	copy(callbacks, c.onPhaseChange)
	c.mu.Unlock()

	logger.Info("生命周期阶段推进", "from", from.String(), "to", to.String())
	for _, cb := range callbacks {
		cb(from, to)
	}
	return true
}

// WaitFor 等待到达指定阶段
func (c *Coordinator) WaitFor(ctx context.Context, phase Phase) error {
	c.mu.RLock()
	ch := c.phaseSignals[phase]
	c.mu.RUnlock()

	if ch == nil {
		return fmt.Errorf("invalid phase: %d", phase)
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reached 是否已到达指定阶段
func (c *Coordinator) Reached(phase Phase) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase >= phase
}

// OnPhaseChange 注册阶段变更回调
//
// 回调在推进方的 goroutine 中、锁外同步执行。
func (c *Coordinator) OnPhaseChange(callback func(old, new Phase)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPhaseChange = append(c.onPhaseChange, callback)
}
