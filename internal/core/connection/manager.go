package connection

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	pkgif "github.com/mpush/go-mpush/pkg/interfaces"
	"github.com/mpush/go-mpush/pkg/lib/log"
)

// ============================================================================
//                              Manager 实现
// ============================================================================

// Manager 服务端连接注册表
type Manager struct {
	heartbeatCheck bool
	idleTimeout    time.Duration
	clock          clock.Clock

	mu    sync.RWMutex
	conns map[string]pkgif.Connection

	destroyed atomic.Bool

	// onCountChanged 连接数变化回调，用于指标导出
	onCountChanged func(n int)
}

var _ pkgif.ConnectionManager = (*Manager)(nil)

// ManagerOption 注册表选项
type ManagerOption func(*Manager)

// WithManagerClock 注入时钟
func WithManagerClock(clk clock.Clock) ManagerOption {
	return func(m *Manager) {
		m.clock = clk
	}
}

// WithCountObserver 连接数变化时回调
func WithCountObserver(fn func(n int)) ManagerOption {
	return func(m *Manager) {
		m.onCountChanged = fn
	}
}

// NewManager 创建连接注册表
//
// heartbeatCheck 为 true 且 idleTimeout > 0 时，Sweep 会关闭读空闲超时的连接。
func NewManager(heartbeatCheck bool, idleTimeout time.Duration, opts ...ManagerOption) *Manager {
	m := &Manager{
		heartbeatCheck: heartbeatCheck,
		idleTimeout:    idleTimeout,
		clock:          clock.New(),
		conns:          make(map[string]pkgif.Connection),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HeartbeatCheck 是否启用空闲检测
func (m *Manager) HeartbeatCheck() bool {
	return m.heartbeatCheck && m.idleTimeout > 0
}

// IdleTimeout 空闲超时
func (m *Manager) IdleTimeout() time.Duration {
	return m.idleTimeout
}

// Add 实现 ConnectionManager
//
// 注册表已销毁时直接关闭连接。
func (m *Manager) Add(c pkgif.Connection) {
	if m.destroyed.Load() {
		_ = c.Close()
		return
	}
	m.mu.Lock()
	m.conns[c.ID()] = c
	n := len(m.conns)
	m.mu.Unlock()

	m.countChanged(n)
	logger.Debug("连接已注册", "conn", log.TruncateID(c.ID(), 8), "total", n)
}

// Get 实现 ConnectionManager
func (m *Manager) Get(id string) (pkgif.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[id]
	return c, ok
}

// RemoveAndClose 实现 ConnectionManager
func (m *Manager) RemoveAndClose(id string) (pkgif.Connection, bool) {
	m.mu.Lock()
	c, ok := m.conns[id]
	if ok {
		delete(m.conns, id)
	}
	n := len(m.conns)
	m.mu.Unlock()

	if !ok {
		return nil, false
	}
	_ = c.Close()
	m.countChanged(n)
	return c, true
}

// Count 实现 ConnectionManager
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Range 遍历连接，fn 返回 false 时停止
func (m *Manager) Range(fn func(c pkgif.Connection) bool) {
	m.mu.RLock()
	conns := make([]pkgif.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		if !fn(c) {
			return
		}
	}
}

// Sweep 关闭读空闲超时的连接，返回关闭数量
func (m *Manager) Sweep() int {
	if !m.HeartbeatCheck() {
		return 0
	}
	now := m.clock.Now()

	var idle []string
	m.Range(func(c pkgif.Connection) bool {
		if now.Sub(c.LastReadTime()) > m.idleTimeout {
			idle = append(idle, c.ID())
		}
		return true
	})

	for _, id := range idle {
		if _, ok := m.RemoveAndClose(id); ok {
			logger.Info("连接读空闲超时，已关闭", "conn", log.TruncateID(id, 8), "idle", m.idleTimeout)
		}
	}
	return len(idle)
}

// Destroy 实现 ConnectionManager，关闭并清空所有连接
func (m *Manager) Destroy() {
	if !m.destroyed.CompareAndSwap(false, true) {
		return
	}
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]pkgif.Connection)
	m.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	m.countChanged(0)
	logger.Info("连接注册表已销毁", "closed", len(conns))
}

// Destroyed 是否已销毁
func (m *Manager) Destroyed() bool {
	return m.destroyed.Load()
}

func (m *Manager) countChanged(n int) {
	if m.onCountChanged != nil {
		m.onCountChanged(n)
	}
}
