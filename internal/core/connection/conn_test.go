package connection

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpush/go-mpush/internal/core/pipeline"
	"github.com/mpush/go-mpush/internal/core/watermark"
	pkgif "github.com/mpush/go-mpush/pkg/interfaces"
	"github.com/mpush/go-mpush/pkg/protocol"
)

func newPipeConn(t *testing.T, opts Options) (*Conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	c := New(server, opts)
	t.Cleanup(func() {
		_ = c.Close()
		_ = client.Close()
	})
	return c, client
}

func TestConn_SendAndWrite(t *testing.T) {
	c, client := newPipeConn(t, Options{Kind: pkgif.TransportStream})
	go c.RunWriter()

	assert.NotEmpty(t, c.ID())
	assert.Equal(t, pkgif.TransportStream, c.TransportKind())
	assert.Equal(t, watermark.Default(), c.WaterMark())

	for i := 1; i <= 3; i++ {
		require.NoError(t, c.Send(protocol.NewPacket(protocol.CmdOK, uint32(i), []byte{byte(i)})))
	}

	dec := protocol.NewDecoder(client, 0)
	for i := 1; i <= 3; i++ {
		p, err := dec.Decode()
		require.NoError(t, err)
		assert.Equal(t, protocol.CmdOK, p.Cmd)
		assert.Equal(t, uint32(i), p.SessionID)
		assert.Equal(t, []byte{byte(i)}, p.Body)
	}
	assert.Eventually(t, func() bool { return c.PendingBytes() == 0 }, time.Second, time.Millisecond)
}

func TestConn_WaterMarkSignal(t *testing.T) {
	var mu sync.Mutex
	var flips []bool
	c, client := newPipeConn(t, Options{
		WaterMark: watermark.WaterMark{Low: 100, High: 200},
		OnWritabilityChanged: func(_ *Conn, w bool) {
			mu.Lock()
			flips = append(flips, w)
			mu.Unlock()
		},
	})

	body := make([]byte, 100)
	require.NoError(t, c.Send(protocol.NewPacket(protocol.CmdOK, 1, body)))
	assert.True(t, c.IsWritable())
	require.NoError(t, c.Send(protocol.NewPacket(protocol.CmdOK, 2, body)))
	assert.False(t, c.IsWritable(), "超过高水位后不可写")
	assert.Equal(t, int64(226), c.PendingBytes())

	// 水位线只是信号，不可写时仍然接受入队
	require.NoError(t, c.Send(protocol.NewPacket(protocol.CmdOK, 3, body)))

	go c.RunWriter()
	dec := protocol.NewDecoder(client, 0)
	for i := 0; i < 3; i++ {
		_, err := dec.Decode()
		require.NoError(t, err)
	}

	assert.Eventually(t, c.IsWritable, time.Second, time.Millisecond)
	mu.Lock()
	assert.Equal(t, []bool{false, true}, flips)
	mu.Unlock()
}

func TestConn_Close(t *testing.T) {
	c, _ := newPipeConn(t, Options{})
	require.NoError(t, c.Send(protocol.NewPacket(protocol.CmdOK, 1, []byte("x"))))
	assert.Positive(t, c.PendingBytes())

	done := make(chan struct{})
	go func() {
		c.RunWriter()
		close(done)
	}()

	require.NoError(t, c.Close())
	_ = c.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("写 goroutine 未退出")
	}

	assert.True(t, c.IsClosed())
	assert.False(t, c.IsWritable())
	assert.Zero(t, c.PendingBytes())
	assert.True(t, errors.Is(c.Send(protocol.NewHeartbeat()), ErrConnectionClosed))
	assert.True(t, errors.Is(c.Send(nil), ErrNilPacket))
	assert.Error(t, c.Context().Err())
}

type dropStage struct {
	cmd protocol.Command
}

func (d dropStage) Name() string { return "drop" }

func (d dropStage) Outbound(_ context.Context, _ pkgif.Connection, p *protocol.Packet) error {
	if p.Cmd == d.cmd {
		return pipeline.ErrDrop
	}
	return nil
}

func TestConn_OutboundStageDrop(t *testing.T) {
	pipe := pipeline.New()
	require.NoError(t, pipe.AddLast(dropStage{cmd: protocol.CmdError}))
	pipe.Seal()

	c, client := newPipeConn(t, Options{Pipeline: pipe})
	go c.RunWriter()

	require.NoError(t, c.Send(protocol.NewPacket(protocol.CmdError, 1, nil)))
	require.NoError(t, c.Send(protocol.NewPacket(protocol.CmdOK, 2, nil)))

	p, err := protocol.NewDecoder(client, 0).Decode()
	require.NoError(t, err)
	assert.Equal(t, protocol.CmdOK, p.Cmd)
	assert.Eventually(t, func() bool { return c.PendingBytes() == 0 }, time.Second, time.Millisecond)
}

func TestConn_WriteFailureCloses(t *testing.T) {
	c, client := newPipeConn(t, Options{})
	_ = client.Close()

	done := make(chan struct{})
	go func() {
		c.RunWriter()
		close(done)
	}()
	require.NoError(t, c.Send(protocol.NewHeartbeat()))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("写失败后写 goroutine 未退出")
	}
	assert.True(t, c.IsClosed())
}

func TestConn_Touch(t *testing.T) {
	c, _ := newPipeConn(t, Options{})
	before := c.LastReadTime()
	time.Sleep(2 * time.Millisecond)
	c.Touch()
	assert.True(t, c.LastReadTime().After(before))
	assert.NotNil(t, c.RemoteAddr())
	assert.NotNil(t, c.LocalAddr())
	assert.NotNil(t, c.Raw())
}
