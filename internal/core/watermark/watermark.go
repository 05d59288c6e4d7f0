// Package watermark 实现写缓冲水位线背压策略
//
// 每条连接维护一个待写字节计数：达到高水位时变为不可写，回落到低水位时恢复可写，
// 两者之间保持原状态（迟滞）。策略只提供可写信号，从不阻塞或拒绝写入。
package watermark

import (
	"sync"
)

// 平台默认水位线
const (
	DefaultLow  = 32 * 1024
	DefaultHigh = 64 * 1024
)

// WaterMark 写缓冲高低水位（字节）
type WaterMark struct {
	Low  int
	High int
}

// Default 返回平台默认水位线
func Default() WaterMark {
	return WaterMark{Low: DefaultLow, High: DefaultHigh}
}

// Resolve 根据配置计算生效的水位线
//
// 只有 0 < low < high 时使用配置值并返回 applied=true；
// 其余组合（含负值、0/0、low >= high）使用默认值。
func Resolve(low, high int) (WaterMark, bool) {
	if low > 0 && high > 0 && low < high {
		return WaterMark{Low: low, High: high}, true
	}
	return Default(), false
}

// ============================================================================
//                              Tracker 实现
// ============================================================================

// Tracker 单连接的待写字节与可写状态
//
// Add 由入队方调用，Release 由写协程在写出后调用，并发安全。
type Tracker struct {
	mark WaterMark

	mu       sync.Mutex
	pending  int64
	writable bool

	// onChange 可写状态翻转时回调，在锁外执行
	onChange func(writable bool)
}

// NewTracker 创建 Tracker，初始可写
func NewTracker(mark WaterMark, onChange func(writable bool)) *Tracker {
	return &Tracker{
		mark:     mark,
		writable: true,
		onChange: onChange,
	}
}

// Add 记录 n 字节进入出站缓冲
func (t *Tracker) Add(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	t.pending += int64(n)
	flipped := t.writable && t.pending >= int64(t.mark.High)
	if flipped {
		t.writable = false
	}
	t.mu.Unlock()

	if flipped && t.onChange != nil {
		t.onChange(false)
	}
}

// Release 记录 n 字节已写出或被丢弃
func (t *Tracker) Release(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	t.pending -= int64(n)
	if t.pending < 0 {
		t.pending = 0
	}
	flipped := !t.writable && t.pending <= int64(t.mark.Low)
	if flipped {
		t.writable = true
	}
	t.mu.Unlock()

	if flipped && t.onChange != nil {
		t.onChange(true)
	}
}

// IsWritable 是否可写
func (t *Tracker) IsWritable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writable
}

// Pending 当前待写字节数
func (t *Tracker) Pending() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// WaterMark 返回生效的水位线
func (t *Tracker) WaterMark() WaterMark {
	return t.mark
}
