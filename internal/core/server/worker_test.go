package server

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestWorkerPool_PerKeyOrdering(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newWorkerPool("order", 4)
	assert.Equal(t, 4, p.Size())

	var mu sync.Mutex
	seen := make(map[string][]int)
	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("conn-%d", i%5)
		n := i
		p.Execute(key, func() {
			mu.Lock()
			seen[key] = append(seen[key], n)
			mu.Unlock()
		})
	}
	p.Shutdown()

	for key, ns := range seen {
		assert.Len(t, ns, 40, key)
		for i := 1; i < len(ns); i++ {
			assert.Less(t, ns[i-1], ns[i], key)
		}
	}
}

func TestWorkerPool_SameKeySameWorker(t *testing.T) {
	p := newWorkerPool("affinity", 8)
	defer p.Shutdown()
	assert.Equal(t, p.index("abc"), p.index("abc"))
}

func TestWorkerPool_ExecuteAfterShutdownRunsInline(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newWorkerPool("inline", 1)
	p.Shutdown()
	p.Shutdown()

	ran := false
	p.Execute("k", func() { ran = true })
	assert.True(t, ran)
}

func TestWorkerPool_PanicRecovered(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newWorkerPool("panic", 1)
	done := make(chan struct{})
	p.Execute("k", func() { panic("boom") })
	p.Execute("k", func() { close(done) })
	<-done
	p.Shutdown()
}

func TestWorkerPool_DefaultSize(t *testing.T) {
	p := newWorkerPool("default", 0)
	defer p.Shutdown()
	assert.Equal(t, defaultWorkerNum(), p.Size())
}
