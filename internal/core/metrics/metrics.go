package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mpush/go-mpush/internal/core/dispatcher"
	"github.com/mpush/go-mpush/internal/core/shaping"
	"github.com/mpush/go-mpush/pkg/protocol"
)

// Namespace 指标命名空间
const Namespace = "mpush"

const subsystem = "gateway"

// Metrics 网关指标集合
type Metrics struct {
	connections     prometheus.Gauge
	accepted        *prometheus.CounterVec
	acceptErrors    prometheus.Counter
	writability     *prometheus.CounterVec
	repliesDropped  prometheus.Counter
	dispatch        *prometheus.CounterVec
	shapingBytes    *prometheus.CounterVec
	shapingRate     *prometheus.GaugeVec
	shapingDelay    *prometheus.HistogramVec
	shapingChannels prometheus.Gauge
	lifecyclePhase  prometheus.Gauge
}

var _ shaping.Observer = (*Metrics)(nil)

// New 创建指标并注册到 reg
//
// reg 为 nil 时返回 nil，表示关闭指标。
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "connections",
			Help:      "Number of registered gateway connections",
		}),
		accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "accepted_total",
			Help:      "Total number of accepted connections",
		}, []string{"transport"}),
		acceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "accept_errors_total",
			Help:      "Total number of accept failures",
		}),
		writability: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "writability_changes_total",
			Help:      "Total number of connection writability flips",
		}, []string{"state"}),
		repliesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "replies_dropped_total",
			Help:      "Total number of replies dropped because the connection was not writable",
		}),
		dispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "dispatch_total",
			Help:      "Total number of dispatched packets by command and result",
		}, []string{"cmd", "result"}),
		shapingBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "shaping_bytes_total",
			Help:      "Total number of bytes observed by traffic shaping",
		}, []string{"direction"}),
		shapingRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "shaping_rate_bytes",
			Help:      "Throughput over the last shaping check interval in bytes per second",
		}, []string{"direction"}),
		shapingDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "shaping_delay_seconds",
			Help:      "Delay imposed by traffic shaping",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		}, []string{"direction"}),
		shapingChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "shaping_channels",
			Help:      "Number of connections tracked by traffic shaping",
		}),
		lifecyclePhase: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      "lifecycle_phase",
			Help:      "Current gateway lifecycle phase",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.connections, m.accepted, m.acceptErrors, m.writability, m.repliesDropped,
		m.dispatch, m.shapingBytes, m.shapingRate, m.shapingDelay, m.shapingChannels,
		m.lifecyclePhase,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	// 预先初始化，保证 /metrics 立即可见
	for _, d := range []string{shaping.DirectionRead, shaping.DirectionWrite} {
		m.shapingBytes.WithLabelValues(d).Add(0)
		m.shapingRate.WithLabelValues(d).Set(0)
	}
	m.writability.WithLabelValues("writable").Add(0)
	m.writability.WithLabelValues("unwritable").Add(0)

	return m, nil
}

// ============================================================================
//                              连接
// ============================================================================

// SetConnections 设置当前连接数
func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

// Accepted 记录一次成功 accept
func (m *Metrics) Accepted(transport string) {
	if m == nil {
		return
	}
	m.accepted.WithLabelValues(transport).Inc()
}

// AcceptError 记录一次 accept 失败
func (m *Metrics) AcceptError() {
	if m == nil {
		return
	}
	m.acceptErrors.Inc()
}

// WritabilityChanged 记录可写状态翻转
func (m *Metrics) WritabilityChanged(writable bool) {
	if m == nil {
		return
	}
	state := "unwritable"
	if writable {
		state = "writable"
	}
	m.writability.WithLabelValues(state).Inc()
}

// ReplyDropped 记录一次响应丢弃
func (m *Metrics) ReplyDropped() {
	if m == nil {
		return
	}
	m.repliesDropped.Inc()
}

// ============================================================================
//                              分发
// ============================================================================

// ObserveDispatch 记录分发结果
func (m *Metrics) ObserveDispatch(cmd protocol.Command, r dispatcher.Result) {
	if m == nil {
		return
	}
	m.dispatch.WithLabelValues(cmd.String(), string(r)).Inc()
}

// ============================================================================
//                              流量整形
// ============================================================================

// ObserveThroughput 实现 shaping.Observer
func (m *Metrics) ObserveThroughput(t shaping.Throughput) {
	if m == nil {
		return
	}
	m.shapingBytes.WithLabelValues(shaping.DirectionRead).Add(float64(t.ReadBytes))
	m.shapingBytes.WithLabelValues(shaping.DirectionWrite).Add(float64(t.WriteBytes))
	m.shapingRate.WithLabelValues(shaping.DirectionRead).Set(t.ReadRate)
	m.shapingRate.WithLabelValues(shaping.DirectionWrite).Set(t.WriteRate)
	m.shapingChannels.Set(float64(t.Channels))
}

// ObserveDelay 实现 shaping.Observer
func (m *Metrics) ObserveDelay(direction string, d time.Duration) {
	if m == nil {
		return
	}
	m.shapingDelay.WithLabelValues(direction).Observe(d.Seconds())
}

// ============================================================================
//                              生命周期
// ============================================================================

// SetPhase 设置生命周期阶段
func (m *Metrics) SetPhase(phase int) {
	if m == nil {
		return
	}
	m.lifecyclePhase.Set(float64(phase))
}
