package dispatcher

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgif "github.com/mpush/go-mpush/pkg/interfaces"
	"github.com/mpush/go-mpush/pkg/protocol"
)

type sentConn struct {
	sent []*protocol.Packet
}

func (s *sentConn) ID() string                         { return "conn-1" }
func (s *sentConn) RemoteAddr() net.Addr               { return nil }
func (s *sentConn) TransportKind() pkgif.TransportKind { return pkgif.TransportStream }
func (s *sentConn) IsWritable() bool                   { return true }
func (s *sentConn) PendingBytes() int64                { return 0 }
func (s *sentConn) LastReadTime() time.Time            { return time.Time{} }
func (s *sentConn) IsClosed() bool                     { return false }
func (s *sentConn) Close() error                       { return nil }
func (s *sentConn) Send(p *protocol.Packet) error {
	s.sent = append(s.sent, p)
	return nil
}

func TestDispatcher_RoutesRegistered(t *testing.T) {
	var results []Result
	d := New(WithResultObserver(func(_ protocol.Command, r Result) { results = append(results, r) }))

	var handled int
	require.NoError(t, d.Register(protocol.CmdGatewayPush, pkgif.MessageHandlerFunc(
		func(context.Context, *protocol.Packet, pkgif.Connection) error {
			handled++
			return nil
		})))
	assert.Equal(t, 1, d.Commands())

	err := d.OnReceive(context.Background(), protocol.NewPacket(protocol.CmdGatewayPush, 1, nil), &sentConn{})
	require.NoError(t, err)
	assert.Equal(t, 1, handled)
	assert.Equal(t, []Result{ResultOK}, results)
}

func TestDispatcher_Duplicate(t *testing.T) {
	d := New()
	h := pkgif.MessageHandlerFunc(func(context.Context, *protocol.Packet, pkgif.Connection) error { return nil })
	require.NoError(t, d.Register(protocol.CmdGatewayPush, h))
	assert.True(t, errors.Is(d.Register(protocol.CmdGatewayPush, h), ErrDuplicateHandler))
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	for _, policy := range []UnknownPolicy{PolicyIgnore, PolicyLog, PolicyReject} {
		d := New(WithUnknownPolicy(policy))
		conn := &sentConn{}

		err := d.OnReceive(context.Background(), protocol.NewPacket(protocol.CmdChat, 7, nil), conn)
		assert.True(t, errors.Is(err, ErrNoHandler))
		assert.Contains(t, err.Error(), "no handler")

		if policy == PolicyReject {
			require.Len(t, conn.sent, 1)
			assert.Equal(t, protocol.CmdError, conn.sent[0].Cmd)
			assert.Equal(t, uint32(7), conn.sent[0].SessionID)
		} else {
			assert.Empty(t, conn.sent)
		}
	}
}

func TestDispatcher_HandlerError(t *testing.T) {
	var results []Result
	d := New(WithResultObserver(func(_ protocol.Command, r Result) { results = append(results, r) }))
	boom := errors.New("boom")
	require.NoError(t, d.Register(protocol.CmdGatewayPush, pkgif.MessageHandlerFunc(
		func(context.Context, *protocol.Packet, pkgif.Connection) error { return boom })))

	err := d.OnReceive(context.Background(), protocol.NewPacket(protocol.CmdGatewayPush, 1, nil), &sentConn{})
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, []Result{ResultError}, results)
}
