package shaping

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestScheduler_SubmitRunsSerially(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewScheduler("test-scheduler", nil)
	assert.Equal(t, "test-scheduler", s.Name())

	var order []int
	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, s.Submit(func() {
			order = append(order, i)
			if i == 99 {
				close(done)
			}
		}))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("任务未执行")
	}
	s.Shutdown()

	require.Len(t, order, 100)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

// Shutdown 前已接受的任务必须执行
func TestScheduler_ShutdownDrainsAccepted(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewScheduler("drain", nil)

	block := make(chan struct{})
	var ran atomic.Int32
	s.Submit(func() { <-block })
	for i := 0; i < 10; i++ {
		s.Submit(func() { ran.Add(1) })
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(block)
	}()
	s.Shutdown()

	assert.Equal(t, int32(10), ran.Load())
	assert.True(t, s.IsShutdown())
	assert.False(t, s.Submit(func() { ran.Add(1) }), "关闭后拒绝新任务")

	s.Shutdown()
	assert.Equal(t, int32(10), ran.Load())
}

func TestScheduler_FixedRate(t *testing.T) {
	defer goleak.VerifyNone(t)

	mock := clock.NewMock()
	s := NewScheduler("fixed-rate", mock)
	defer s.Shutdown()

	var ticks atomic.Int32
	cancel, ok := s.ScheduleAtFixedRate(100*time.Millisecond, func() { ticks.Add(1) })
	require.True(t, ok)

	// 等待任务注册
	registered := make(chan struct{})
	s.Submit(func() { close(registered) })
	<-registered

	for i := 1; i <= 5; i++ {
		mock.Add(100 * time.Millisecond)
		want := int32(i)
		assert.Eventually(t, func() bool { return ticks.Load() >= want }, time.Second, time.Millisecond)
	}

	cancel()
	cancel()
	canceled := make(chan struct{})
	s.Submit(func() { close(canceled) })
	<-canceled

	before := ticks.Load()
	mock.Add(time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, ticks.Load())
}

func TestScheduler_FixedRateRejectsBadInterval(t *testing.T) {
	s := NewScheduler("bad-interval", nil)
	defer s.Shutdown()

	_, ok := s.ScheduleAtFixedRate(0, func() {})
	assert.False(t, ok)
}

func TestScheduler_PanicDoesNotKillLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewScheduler("panic", nil)
	s.Submit(func() { panic("boom") })

	done := make(chan struct{})
	s.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("panic 后调度器停止工作")
	}
	s.Shutdown()
}
