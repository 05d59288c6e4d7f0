package shaping

import (
	"context"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ThreadLabel pprof 标签键，值为线程名
const ThreadLabel = "thread"

// Scheduler 单 goroutine 的定时执行器
//
// 所有任务（一次性与固定频率）都在同一个 goroutine 上串行执行，
// 任务之间无需再加锁。Shutdown 前已接受的任务保证会执行。
type Scheduler struct {
	name  string
	clock clock.Clock

	mu       sync.Mutex
	queue    []func()
	shutdown bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once

	// 以下字段只在调度 goroutine 上访问
	periodic []*periodicTask
}

type periodicTask struct {
	interval time.Duration
	next     time.Time
	fn       func()
	canceled bool
}

// NewScheduler 创建并启动调度器
func NewScheduler(name string, clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	s := &Scheduler{
		name:  name,
		clock: clk,
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go pprof.Do(context.Background(), pprof.Labels(ThreadLabel, name), func(context.Context) {
		s.loop()
	})
	return s
}

// Name 线程名
func (s *Scheduler) Name() string {
	return s.name
}

// Submit 提交一次性任务，调度器已关闭时返回 false
func (s *Scheduler) Submit(fn func()) bool {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, fn)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// ScheduleAtFixedRate 以固定频率执行 fn，首次在 interval 之后
//
// 返回的 cancel 可重复调用；调度器已关闭时返回 false。
func (s *Scheduler) ScheduleAtFixedRate(interval time.Duration, fn func()) (cancel func(), ok bool) {
	if interval <= 0 {
		return func() {}, false
	}
	task := &periodicTask{interval: interval, fn: fn}
	ok = s.Submit(func() {
		task.next = s.clock.Now().Add(interval)
		s.periodic = append(s.periodic, task)
	})
	cancel = func() {
		s.Submit(func() { task.canceled = true })
	}
	return cancel, ok
}

// Shutdown 停止接受新任务，执行完已接受的任务后退出，阻塞直到 goroutine 结束
//
// 可重复调用。
func (s *Scheduler) Shutdown() {
	s.once.Do(func() {
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		close(s.stop)
	})
	<-s.done
}

// IsShutdown 是否已关闭
func (s *Scheduler) IsShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// Done 调度 goroutine 退出后关闭
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// ============================================================================
//                              调度循环
// ============================================================================

func (s *Scheduler) loop() {
	defer close(s.done)

	for {
		s.runQueued()
		next, hasNext := s.runDue()

		var timer *clock.Timer
		var timerC <-chan time.Time
		if hasNext {
			d := next.Sub(s.clock.Now())
			if d <= 0 {
				continue
			}
			timer = s.clock.Timer(d)
			timerC = timer.C
		}

		select {
		case <-s.wake:
		case <-timerC:
		case <-s.stop:
			if timer != nil {
				timer.Stop()
			}
			s.runQueued()
			return
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (s *Scheduler) runQueued() {
	for {
		s.mu.Lock()
		tasks := s.queue
		s.queue = nil
		s.mu.Unlock()

		if len(tasks) == 0 {
			return
		}
		for _, fn := range tasks {
			s.run(fn)
		}
	}
}

// runDue 执行到期的周期任务，返回最近的下一次到期时间
func (s *Scheduler) runDue() (time.Time, bool) {
	now := s.clock.Now()

	live := s.periodic[:0]
	for _, t := range s.periodic {
		if !t.canceled {
			live = append(live, t)
		}
	}
	s.periodic = live

	var next time.Time
	hasNext := false
	for _, t := range s.periodic {
		if !t.next.After(now) {
			s.run(t.fn)
			t.next = t.next.Add(t.interval)
			// 落后超过一个周期时不补跑
			if !t.next.After(now) {
				t.next = now.Add(t.interval)
			}
		}
		if !hasNext || t.next.Before(next) {
			next = t.next
			hasNext = true
		}
	}
	return next, hasNext
}

func (s *Scheduler) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("调度任务 panic", "thread", s.name, "panic", r)
		}
	}()
	fn()
}
