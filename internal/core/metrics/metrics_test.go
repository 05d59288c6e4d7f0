package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/mpush/go-mpush/internal/core/dispatcher"
	"github.com/mpush/go-mpush/internal/core/shaping"
	"github.com/mpush/go-mpush/pkg/protocol"
)

func TestMetrics_NilSafe(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	require.Nil(t, m)

	assert.NotPanics(t, func() {
		m.SetConnections(3)
		m.Accepted("stream")
		m.AcceptError()
		m.WritabilityChanged(false)
		m.ReplyDropped()
		m.ObserveDispatch(protocol.CmdGatewayPush, dispatcher.ResultOK)
		m.ObserveThroughput(shaping.Throughput{})
		m.ObserveDelay(shaping.DirectionWrite, time.Second)
		m.SetPhase(2)
	})
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.SetConnections(5)
	m.Accepted("stream")
	m.Accepted("stream")
	m.WritabilityChanged(false)
	m.WritabilityChanged(true)
	m.WritabilityChanged(false)
	m.ObserveDispatch(protocol.CmdGatewayPush, dispatcher.ResultOK)
	m.ObserveDispatch(protocol.CmdChat, dispatcher.ResultNoHandler)
	m.ObserveThroughput(shaping.Throughput{ReadBytes: 10, WriteBytes: 1000, WriteRate: 1000, Channels: 2})
	m.ObserveDelay(shaping.DirectionWrite, 50*time.Millisecond)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.connections))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.accepted.WithLabelValues("stream")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.writability.WithLabelValues("unwritable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writability.WithLabelValues("writable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatch.WithLabelValues(protocol.CmdChat.String(), "no_handler")))
	assert.Equal(t, 1000.0, testutil.ToFloat64(m.shapingBytes.WithLabelValues(shaping.DirectionWrite)))
	assert.Equal(t, 1000.0, testutil.ToFloat64(m.shapingRate.WithLabelValues(shaping.DirectionWrite)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.shapingChannels))
	assert.Equal(t, 1, testutil.CollectAndCount(m.shapingDelay))
}

func TestMetrics_DuplicateRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestModule(t *testing.T) {
	var m *Metrics
	app := fxtest.New(t,
		fx.Supply(fx.Annotate(prometheus.NewRegistry(), fx.As(new(prometheus.Registerer)))),
		Module(),
		fx.Populate(&m),
	)
	app.RequireStart().RequireStop()
	assert.NotNil(t, m)

	var disabled *Metrics
	app = fxtest.New(t, Module(), fx.Populate(&disabled))
	app.RequireStart().RequireStop()
	assert.Nil(t, disabled)
}
