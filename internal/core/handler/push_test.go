package handler

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

type fakeConn struct {
	writable bool
	sent     []*protocol.Packet
}

func (f *fakeConn) ID() string                         { return "fake-conn" }
func (f *fakeConn) RemoteAddr() net.Addr               { return nil }
func (f *fakeConn) TransportKind() pkgif.TransportKind { return pkgif.TransportStream }
func (f *fakeConn) IsWritable() bool                   { return f.writable }
func (f *fakeConn) PendingBytes() int64                { return 0 }
func (f *fakeConn) LastReadTime() time.Time            { return time.Time{} }
func (f *fakeConn) IsClosed() bool                     { return false }
func (f *fakeConn) Close() error                       { return nil }
func (f *fakeConn) Send(p *protocol.Packet) error {
	f.sent = append(f.sent, p)
	return nil
}

func pushPacket(t *testing.T, msg *GatewayPushMessage) *protocol.Packet {
	t.Helper()
	body, err := Marshal(msg)
	require.NoError(t, err)
	return protocol.NewPacket(protocol.CmdGatewayPush, 42, body)
}

func TestGatewayPushHandler_OK(t *testing.T) {
	var got *GatewayPushMessage
	h := NewGatewayPushHandler(PusherFunc(func(_ context.Context, m *GatewayPushMessage) error {
		got = m
		return nil
	}))
	conn := &fakeConn{writable: true}

	msg := &GatewayPushMessage{UserID: "u1", TaskID: "t1", Tags: []string{"vip"}, Content: []byte("hello")}
	require.NoError(t, h.Handle(context.Background(), pushPacket(t, msg), conn))

	require.NotNil(t, got)
	assert.Equal(t, msg, got)

	require.Len(t, conn.sent, 1)
	assert.Equal(t, protocol.CmdOK, conn.sent[0].Cmd)
	assert.Equal(t, uint32(42), conn.sent[0].SessionID)

	var ok OkMessage
	require.NoError(t, Unmarshal(conn.sent[0].Body, &ok))
	assert.Equal(t, "t1", ok.TaskID)
}

func TestGatewayPushHandler_Errors(t *testing.T) {
	boom := errors.New("no route")
	tests := []struct {
		name   string
		pkt    func(t *testing.T) *protocol.Packet
		pusher Pusher
		code   byte
	}{
		{
			name:   "decode",
			pkt:    func(*testing.T) *protocol.Packet { return protocol.NewPacket(protocol.CmdGatewayPush, 1, []byte{0xff, 0x00}) },
			pusher: NopPusher{},
			code:   CodeDecodeFailed,
		},
		{
			name: "invalid",
			pkt: func(t *testing.T) *protocol.Packet {
				return pushPacket(t, &GatewayPushMessage{TaskID: "t2", Content: []byte("x")})
			},
			pusher: NopPusher{},
			code:   CodeInvalid,
		},
		{
			name: "push failed",
			pkt: func(t *testing.T) *protocol.Packet {
				return pushPacket(t, &GatewayPushMessage{UserID: "u", Content: []byte("x")})
			},
			pusher: PusherFunc(func(context.Context, *GatewayPushMessage) error { return boom }),
			code:   CodePushFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConn{writable: true}
			err := NewGatewayPushHandler(tt.pusher).Handle(context.Background(), tt.pkt(t), conn)
			require.Error(t, err)

			require.Len(t, conn.sent, 1)
			assert.Equal(t, protocol.CmdError, conn.sent[0].Cmd)
			var em ErrorMessage
			require.NoError(t, Unmarshal(conn.sent[0].Body, &em))
			assert.Equal(t, tt.code, em.Code)
			assert.NotEmpty(t, em.Reason)
		})
	}
}

func TestGatewayPushHandler_DropsReplyWhenNotWritable(t *testing.T) {
	dropped := 0
	h := NewGatewayPushHandler(nil)
	h.OnReplyDropped(func() { dropped++ })
	conn := &fakeConn{writable: false}

	msg := &GatewayPushMessage{Broadcast: true, Content: []byte("all")}
	require.NoError(t, h.Handle(context.Background(), pushPacket(t, msg), conn))
	assert.Empty(t, conn.sent)
	assert.Equal(t, 1, dropped)
}

func TestGatewayPushMessage_Validate(t *testing.T) {
	assert.NoError(t, (&GatewayPushMessage{UserID: "u", Content: []byte("x")}).Validate())
	assert.NoError(t, (&GatewayPushMessage{Broadcast: true, Content: []byte("x")}).Validate())
	assert.True(t, errors.Is((&GatewayPushMessage{UserID: "u"}).Validate(), ErrInvalidMessage))
	assert.True(t, errors.Is((&GatewayPushMessage{UserID: "u", Content: []byte("x"), Timeout: -1}).Validate(), ErrInvalidMessage))
}
