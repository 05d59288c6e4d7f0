package server

import (
	"context"
	"fmt"
	"runtime"
	"runtime/pprof"
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/mpush/go-mpush/internal/core/shaping"
)

// workerQueueSize 单个 worker 的队列长度，满时提交方阻塞
const workerQueueSize = 1024

// defaultWorkerNum worker 数量默认值
func defaultWorkerNum() int {
	return runtime.NumCPU() * 2
}

// workerPool 按 key 亲和的 worker 池
//
// 相同 key 的任务总是落在同一个 worker 上，因而按提交顺序执行。
type workerPool struct {
	name   string
	queues []chan func()

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func newWorkerPool(name string, n int) *workerPool {
	if n <= 0 {
		n = defaultWorkerNum()
	}
	p := &workerPool{
		name:   name,
		queues: make([]chan func(), n),
	}
	for i := range p.queues {
		q := make(chan func(), workerQueueSize)
		p.queues[i] = q
		p.wg.Add(1)
		thread := fmt.Sprintf("%s-%d", name, i)
		go pprof.Do(context.Background(), pprof.Labels(shaping.ThreadLabel, thread), func(context.Context) {
			defer p.wg.Done()
			for fn := range q {
				p.run(thread, fn)
			}
		})
	}
	return p
}

// Size worker 数量
func (p *workerPool) Size() int {
	return len(p.queues)
}

func (p *workerPool) index(key string) int {
	return int(murmur3.Sum32([]byte(key)) % uint32(len(p.queues)))
}

// Execute 把 fn 提交给 key 对应的 worker
//
// 池关闭后在调用方 goroutine 上直接执行。
func (p *workerPool) Execute(key string, fn func()) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		fn()
		return
	}
	p.queues[p.index(key)] <- fn
	p.mu.RUnlock()
}

// Shutdown 关闭池并等待已提交的任务执行完
func (p *workerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *workerPool) run(thread string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker 任务 panic", "thread", thread, "panic", r)
		}
	}()
	fn()
}
