// Package shaping 实现全局 + 单连接的流量整形
//
// 整形器持有一个专用调度 goroutine（线程名 traffic-shaping），负责周期性统计吞吐、
// 清理已移除连接的状态。数据路径上的 I/O goroutine 只做原子累加和令牌预约，
// 吞吐快照只由调度 goroutine 写入。
//
// 释放顺序：Release 会向调度器提交最后一次统计并清空连接状态，
// 因此必须在调度器 Shutdown 之前调用。Close 按此顺序执行两者。
package shaping

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/mpush/go-mpush/config"
	"github.com/mpush/go-mpush/pkg/lib/log"
)

var logger = log.Logger("core/shaping")

// ThreadName 整形调度线程名
const ThreadName = "traffic-shaping"

// ErrReleased 整形器已释放
var ErrReleased = errors.New("traffic shaping released")

// Config 整形参数，限速单位为 字节/秒，<= 0 表示该维度不限速
type Config struct {
	WriteGlobalLimit  int64
	ReadGlobalLimit   int64
	WriteChannelLimit int64
	ReadChannelLimit  int64

	// CheckInterval 统计周期，同时决定令牌桶容量（limit × CheckInterval）
	CheckInterval time.Duration

	// MaxWait 单次等待上限
	MaxWait time.Duration
}

// ConfigFrom 从统一配置转换
func ConfigFrom(c config.TrafficShapingConfig) Config {
	return Config{
		WriteGlobalLimit:  c.WriteGlobalLimit,
		ReadGlobalLimit:   c.ReadGlobalLimit,
		WriteChannelLimit: c.WriteChannelLimit,
		ReadChannelLimit:  c.ReadChannelLimit,
		CheckInterval:     c.CheckInterval.Duration(),
		MaxWait:           c.MaxWait.Duration(),
	}
}

// defaultCheckInterval CheckInterval 未设置时用于计算令牌桶容量
const defaultCheckInterval = time.Second

// Throughput 一个统计周期的吞吐快照
type Throughput struct {
	// At 快照时间
	At time.Time

	// Interval 本周期实际时长
	Interval time.Duration

	// ReadBytes / WriteBytes 本周期字节数
	ReadBytes  int64
	WriteBytes int64

	// ReadRate / WriteRate 本周期速率（字节/秒）
	ReadRate  float64
	WriteRate float64

	// ReadTotal / WriteTotal 累计字节数
	ReadTotal  int64
	WriteTotal int64

	// Channels 统计时的连接数
	Channels int
}

// Observer 接收整形事件，用于指标导出
type Observer interface {
	ObserveThroughput(t Throughput)
	ObserveDelay(direction string, d time.Duration)
}

// 方向
const (
	DirectionRead  = "read"
	DirectionWrite = "write"
)

// ============================================================================
//                              Controller 实现
// ============================================================================

// Controller 流量整形器
type Controller struct {
	cfg      Config
	clock    clock.Clock
	sched    *Scheduler
	observer Observer

	readGlobal  *rate.Limiter
	writeGlobal *rate.Limiter

	mu       sync.RWMutex
	channels map[string]*channelState

	readBytes  atomic.Int64
	writeBytes atomic.Int64
	readTotal  atomic.Int64
	writeTotal atomic.Int64

	// 只由调度 goroutine 写入
	snapshot  atomic.Pointer[Throughput]
	lastFlush time.Time

	released    atomic.Bool
	releaseOnce sync.Once
	closeOnce   sync.Once
}

type channelState struct {
	read  *rate.Limiter
	write *rate.Limiter
}

// Option 整形器选项
type Option func(*Controller)

// WithClock 注入时钟，测试使用
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) {
		c.clock = clk
	}
}

// WithObserver 注入观察者
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		c.observer = o
	}
}

// New 创建整形器并启动调度 goroutine
func New(cfg Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:      cfg,
		clock:    clock.New(),
		channels: make(map[string]*channelState),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.readGlobal = c.newLimiter(cfg.ReadGlobalLimit)
	c.writeGlobal = c.newLimiter(cfg.WriteGlobalLimit)
	c.lastFlush = c.clock.Now()
	c.snapshot.Store(&Throughput{At: c.lastFlush})

	c.sched = NewScheduler(ThreadName, c.clock)
	if cfg.CheckInterval > 0 {
		c.sched.ScheduleAtFixedRate(cfg.CheckInterval, c.flush)
	}

	logger.Info("流量整形已启用",
		"writeGlobal", cfg.WriteGlobalLimit, "readGlobal", cfg.ReadGlobalLimit,
		"writeChannel", cfg.WriteChannelLimit, "readChannel", cfg.ReadChannelLimit,
		"checkInterval", cfg.CheckInterval)
	return c
}

// newLimiter limit <= 0 时返回 nil（不限速）
func (c *Controller) newLimiter(limit int64) *rate.Limiter {
	if limit <= 0 {
		return nil
	}
	interval := c.cfg.CheckInterval
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	burst := int(float64(limit) * interval.Seconds())
	if burst < 1 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Limit(limit), burst)
	// 起始时桶为空，避免首个周期放行 2 倍流量
	lim.ReserveN(c.clock.Now(), burst)
	return lim
}

// ============================================================================
//                              连接管理
// ============================================================================

// AddChannel 为连接创建单连接限速器
func (c *Controller) AddChannel(id string) {
	if c.released.Load() {
		return
	}
	st := &channelState{
		read:  c.newLimiter(c.cfg.ReadChannelLimit),
		write: c.newLimiter(c.cfg.WriteChannelLimit),
	}
	c.mu.Lock()
	if _, ok := c.channels[id]; !ok {
		c.channels[id] = st
	}
	c.mu.Unlock()
}

// RemoveChannel 移除连接状态
//
// 移除由调度 goroutine 执行，调用方不阻塞。
func (c *Controller) RemoveChannel(id string) {
	if !c.sched.Submit(func() { c.removeChannel(id) }) {
		c.removeChannel(id)
	}
}

func (c *Controller) removeChannel(id string) {
	c.mu.Lock()
	delete(c.channels, id)
	c.mu.Unlock()
}

// Channels 当前跟踪的连接数
func (c *Controller) Channels() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.channels)
}

func (c *Controller) channel(id string) *channelState {
	c.mu.RLock()
	st := c.channels[id]
	c.mu.RUnlock()
	return st
}

// ============================================================================
//                              数据路径
// ============================================================================

// ReadDelay 记账 n 个入站字节，返回该连接应暂停读取的时长
func (c *Controller) ReadDelay(id string, n int) time.Duration {
	if n <= 0 || c.released.Load() {
		return 0
	}
	c.readBytes.Add(int64(n))
	c.readTotal.Add(int64(n))

	var chLim *rate.Limiter
	if st := c.channel(id); st != nil {
		chLim = st.read
	}
	d := c.delay(n, c.readGlobal, chLim)
	if d > 0 && c.observer != nil {
		c.observer.ObserveDelay(DirectionRead, d)
	}
	return d
}

// WriteDelay 记账 n 个出站字节，返回写出前应等待的时长
func (c *Controller) WriteDelay(id string, n int) time.Duration {
	if n <= 0 || c.released.Load() {
		return 0
	}
	c.writeBytes.Add(int64(n))
	c.writeTotal.Add(int64(n))

	var chLim *rate.Limiter
	if st := c.channel(id); st != nil {
		chLim = st.write
	}
	d := c.delay(n, c.writeGlobal, chLim)
	if d > 0 && c.observer != nil {
		c.observer.ObserveDelay(DirectionWrite, d)
	}
	return d
}

// delay 取全局与单连接等待的较大值，并受 MaxWait 限制
func (c *Controller) delay(n int, global, channel *rate.Limiter) time.Duration {
	now := c.clock.Now()
	d := reserve(global, now, n)
	if cd := reserve(channel, now, n); cd > d {
		d = cd
	}
	if c.cfg.MaxWait > 0 && d > c.cfg.MaxWait {
		d = c.cfg.MaxWait
	}
	return d
}

// reserve 预约 n 个令牌，n 超过桶容量时分段预约，返回最后一段的等待时长
func reserve(lim *rate.Limiter, now time.Time, n int) time.Duration {
	if lim == nil {
		return 0
	}
	burst := lim.Burst()
	var d time.Duration
	for n > 0 {
		k := n
		if k > burst {
			k = burst
		}
		r := lim.ReserveN(now, k)
		if !r.OK() {
			return 0
		}
		d = r.DelayFrom(now)
		n -= k
	}
	return d
}

// Wait 按 d 等待，ctx 结束时提前返回
func (c *Controller) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := c.clock.Timer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ============================================================================
//                              统计
// ============================================================================

// flush 只在调度 goroutine 上执行
func (c *Controller) flush() {
	now := c.clock.Now()
	interval := now.Sub(c.lastFlush)
	c.lastFlush = now

	t := &Throughput{
		At:         now,
		Interval:   interval,
		ReadBytes:  c.readBytes.Swap(0),
		WriteBytes: c.writeBytes.Swap(0),
		ReadTotal:  c.readTotal.Load(),
		WriteTotal: c.writeTotal.Load(),
		Channels:   c.Channels(),
	}
	if interval > 0 {
		t.ReadRate = float64(t.ReadBytes) / interval.Seconds()
		t.WriteRate = float64(t.WriteBytes) / interval.Seconds()
	}
	c.snapshot.Store(t)

	if c.observer != nil {
		c.observer.ObserveThroughput(*t)
	}
}

// Snapshot 返回最近一次统计
func (c *Controller) Snapshot() Throughput {
	return *c.snapshot.Load()
}

// Config 返回整形参数
func (c *Controller) Config() Config {
	return c.cfg
}

// Scheduler 返回调度器
func (c *Controller) Scheduler() *Scheduler {
	return c.sched
}

// ============================================================================
//                              释放
// ============================================================================

// Release 停止整形并释放连接状态
//
// 最后一次统计与状态清理提交给调度器执行，必须在 Shutdown 之前调用。
// 可重复调用。
func (c *Controller) Release() {
	c.releaseOnce.Do(func() {
		c.released.Store(true)
		ok := c.sched.Submit(func() {
			c.flush()
			c.mu.Lock()
			c.channels = make(map[string]*channelState)
			c.mu.Unlock()
		})
		if !ok {
			logger.Warn("调度器已关闭，整形状态未能最终统计")
		}
		logger.Debug("流量整形已释放")
	})
}

// Released 是否已释放
func (c *Controller) Released() bool {
	return c.released.Load()
}

// Shutdown 关闭调度器，阻塞直到调度 goroutine 退出
func (c *Controller) Shutdown() {
	c.sched.Shutdown()
}

// Close 依次执行 Release 与 Shutdown，可重复调用
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.Release()
		c.Shutdown()
		logger.Info("流量整形已关闭")
	})
	return nil
}
