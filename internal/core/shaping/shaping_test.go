package shaping

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mpush/go-mpush/config"
	pkgif "github.com/mpush/go-mpush/pkg/interfaces"
	"github.com/mpush/go-mpush/pkg/protocol"
)

const mb = 1 << 20

func TestConfigFrom(t *testing.T) {
	ts := config.DefaultNetConfig().TrafficShaping
	cfg := ConfigFrom(ts)
	assert.Equal(t, int64(30*1024), cfg.WriteGlobalLimit)
	assert.Equal(t, int64(3*1024), cfg.WriteChannelLimit)
	assert.Zero(t, cfg.ReadGlobalLimit)
	assert.Equal(t, 100*time.Millisecond, cfg.CheckInterval)
	assert.Equal(t, 15*time.Second, cfg.MaxWait)
}

// 1 MB/s 全局写限速，以 2 MB/s 提供流量，稳态吞吐不超过 1 MB/s
func TestController_GlobalWriteLimitSteadyState(t *testing.T) {
	defer goleak.VerifyNone(t)

	mock := clock.NewMock()
	c := New(Config{
		WriteGlobalLimit: mb,
		CheckInterval:    100 * time.Millisecond,
		MaxWait:          15 * time.Second,
	}, WithClock(mock))
	defer c.Close()

	const (
		pkt     = 20 * 1024
		packets = 300
	)
	// 2 MB/s 时相邻两包的间隔
	offerGap := time.Duration(float64(time.Second) * pkt / (2 * mb))

	start := mock.Now()
	for i := 0; i < packets; i++ {
		d := c.WriteDelay("c1", pkt)
		if d < offerGap {
			d = offerGap
		}
		mock.Add(d)
	}
	elapsed := mock.Now().Sub(start)

	rate := float64(pkt*packets) / elapsed.Seconds()
	assert.LessOrEqual(t, rate, float64(mb)*1.01)
	assert.Greater(t, rate, float64(mb)*0.9)
}

func TestController_ChannelLimitAndMax(t *testing.T) {
	mock := clock.NewMock()
	c := New(Config{
		WriteGlobalLimit:  0,
		WriteChannelLimit: 1000,
		ReadChannelLimit:  2000,
		CheckInterval:     time.Second,
	}, WithClock(mock))
	defer c.Close()

	c.AddChannel("a")
	assert.Equal(t, 1, c.Channels())

	assert.Equal(t, 500*time.Millisecond, c.WriteDelay("a", 500))
	assert.Equal(t, 250*time.Millisecond, c.ReadDelay("a", 500))

	// 未注册的连接只受全局限速
	assert.Zero(t, c.WriteDelay("unknown", 500))
}

func TestController_GlobalAndChannelTakesMax(t *testing.T) {
	mock := clock.NewMock()
	c := New(Config{
		WriteGlobalLimit:  4000,
		WriteChannelLimit: 1000,
		CheckInterval:     time.Second,
	}, WithClock(mock))
	defer c.Close()

	c.AddChannel("a")
	// 全局 250ms，单连接 1s
	assert.Equal(t, time.Second, c.WriteDelay("a", 1000))
}

func TestController_LargeWriteSpansBursts(t *testing.T) {
	mock := clock.NewMock()
	c := New(Config{WriteGlobalLimit: 1000, CheckInterval: 100 * time.Millisecond}, WithClock(mock))
	defer c.Close()

	// 桶容量 100，5000 字节需要 5 秒
	assert.Equal(t, 5*time.Second, c.WriteDelay("a", 5000))
}

func TestController_MaxWait(t *testing.T) {
	mock := clock.NewMock()
	c := New(Config{WriteGlobalLimit: 1000, CheckInterval: time.Second, MaxWait: time.Second}, WithClock(mock))
	defer c.Close()

	assert.Equal(t, time.Second, c.WriteDelay("a", 10000))
}

func TestController_UnlimitedStillCounts(t *testing.T) {
	mock := clock.NewMock()
	c := New(Config{WriteGlobalLimit: -5, CheckInterval: 100 * time.Millisecond}, WithClock(mock))

	assert.Zero(t, c.WriteDelay("a", 4096))
	assert.Zero(t, c.ReadDelay("a", 1024))
	assert.Zero(t, c.ReadDelay("a", 0))

	require.NoError(t, c.Close())
	snap := c.Snapshot()
	assert.Equal(t, int64(4096), snap.WriteTotal)
	assert.Equal(t, int64(1024), snap.ReadTotal)
}

type throughputRecorder struct {
	mu     sync.Mutex
	snaps  []Throughput
	delays map[string]int
}

func (r *throughputRecorder) ObserveThroughput(t Throughput) {
	r.mu.Lock()
	r.snaps = append(r.snaps, t)
	r.mu.Unlock()
}

func (r *throughputRecorder) ObserveDelay(direction string, _ time.Duration) {
	r.mu.Lock()
	if r.delays == nil {
		r.delays = make(map[string]int)
	}
	r.delays[direction]++
	r.mu.Unlock()
}

func (r *throughputRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func TestController_PeriodicFlush(t *testing.T) {
	defer goleak.VerifyNone(t)

	mock := clock.NewMock()
	rec := &throughputRecorder{}
	c := New(Config{WriteGlobalLimit: 1000, CheckInterval: 100 * time.Millisecond},
		WithClock(mock), WithObserver(rec))

	c.WriteDelay("a", 300)

	// 等待周期任务注册
	registered := make(chan struct{})
	c.Scheduler().Submit(func() { close(registered) })
	<-registered

	mock.Add(100 * time.Millisecond)
	assert.Eventually(t, func() bool { return rec.count() >= 1 }, time.Second, time.Millisecond)

	snap := c.Snapshot()
	assert.Equal(t, int64(300), snap.WriteBytes)
	assert.InDelta(t, 3000, snap.WriteRate, 1)

	require.NoError(t, c.Close())
	rec.mu.Lock()
	assert.Equal(t, 1, rec.delays[DirectionWrite])
	rec.mu.Unlock()
}

// Release 提交的最后统计必须在 Shutdown 前执行
func TestController_ReleaseBeforeShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := New(Config{WriteChannelLimit: 1000, CheckInterval: time.Hour})
	c.AddChannel("a")
	c.WriteDelay("a", 10)

	c.Release()
	assert.True(t, c.Released())
	assert.Zero(t, c.WriteDelay("a", 10), "释放后不再整形")

	c.Shutdown()
	assert.Equal(t, 0, c.Channels(), "最终清理已由调度器执行")
	assert.Equal(t, int64(10), c.Snapshot().WriteTotal)

	// 重复调用无副作用
	c.Release()
	c.Shutdown()
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestController_RemoveChannelAfterShutdown(t *testing.T) {
	c := New(Config{WriteChannelLimit: 1000})
	c.AddChannel("a")
	require.NoError(t, c.Close())

	c.AddChannel("b")
	c.RemoveChannel("a")
	assert.Equal(t, 0, c.Channels())
}

func TestController_RemoveChannelRunsOnScheduler(t *testing.T) {
	c := New(Config{WriteChannelLimit: 1000})
	defer c.Close()

	c.AddChannel("a")
	c.AddChannel("a")
	c.RemoveChannel("a")

	done := make(chan struct{})
	c.Scheduler().Submit(func() { close(done) })
	<-done
	assert.Equal(t, 0, c.Channels())
}

type stubConn struct{ id string }

func (s stubConn) ID() string                         { return s.id }
func (s stubConn) RemoteAddr() net.Addr               { return nil }
func (s stubConn) TransportKind() pkgif.TransportKind { return pkgif.TransportStream }
func (s stubConn) Send(*protocol.Packet) error        { return nil }
func (s stubConn) IsWritable() bool                   { return true }
func (s stubConn) PendingBytes() int64                { return 0 }
func (s stubConn) LastReadTime() time.Time            { return time.Time{} }
func (s stubConn) IsClosed() bool                     { return false }
func (s stubConn) Close() error                       { return nil }

func TestStage(t *testing.T) {
	defer goleak.VerifyNone(t)

	mock := clock.NewMock()
	c := New(Config{ReadChannelLimit: 1000, CheckInterval: time.Second}, WithClock(mock))
	defer c.Close()

	st := NewStage(c)
	assert.Equal(t, StageName, st.Name())

	conn := stubConn{id: "s1"}
	st.Active(conn)
	assert.Equal(t, 1, c.Channels())

	// 出站不限速，立即返回
	pkt := protocol.NewPacket(protocol.CmdGatewayPush, 1, make([]byte, 87))
	require.NoError(t, st.Outbound(context.Background(), conn, pkt))

	// 入站需要等待 100ms，ctx 先结束
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := st.Inbound(ctx, conn, pkt)
	assert.True(t, errors.Is(err, context.Canceled))

	// 时钟推进后等待结束
	done := make(chan error, 1)
	go func() { done <- st.Inbound(context.Background(), conn, pkt) }()
	assert.Eventually(t, func() bool {
		mock.Add(50 * time.Millisecond)
		select {
		case err := <-done:
			return err == nil
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	st.Inactive(conn)
}
