package provider

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgif "github.com/mpush/go-mpush/pkg/interfaces"
)

func TestDefault_ListenStream(t *testing.T) {
	p := NewDefault()
	assert.Equal(t, DefaultName, p.Name())

	l, err := p.ListenStream(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	_, ok := l.Addr().(*net.TCPAddr)
	assert.True(t, ok)
}

func TestDefault_ListenPacket(t *testing.T) {
	pc, err := NewDefault().ListenPacket(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	_, ok := pc.LocalAddr().(*net.UDPAddr)
	assert.True(t, ok)
}

func TestDefault_ListenDatagramSessions(t *testing.T) {
	l, err := NewDefault().ListenDatagramSessions(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	client, err := net.Dial("udp", l.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)

	sess, err := l.Accept()
	require.NoError(t, err)
	defer sess.Close()

	buf := make([]byte, 16)
	n, err := sess.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestDefault_ListenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDefault().ListenDatagramSessions(ctx, "127.0.0.1:0")
	assert.True(t, errors.Is(err, context.Canceled))
}

type fakeBuffers struct {
	read, write int
	fail        bool
}

func (f *fakeBuffers) SetReadBuffer(n int) error {
	if f.fail {
		return errors.New("nope")
	}
	f.read = n
	return nil
}

func (f *fakeBuffers) SetWriteBuffer(n int) error {
	if f.fail {
		return errors.New("nope")
	}
	f.write = n
	return nil
}

func TestApplySocketOptions(t *testing.T) {
	f := &fakeBuffers{}
	ApplySocketOptions(f, pkgif.SocketOptions{SendBuffer: 4096, ReceiveBuffer: 8192})
	assert.Equal(t, 4096, f.write)
	assert.Equal(t, 8192, f.read)

	// 0 表示保持系统默认
	f = &fakeBuffers{}
	ApplySocketOptions(f, pkgif.SocketOptions{})
	assert.Zero(t, f.write)
	assert.Zero(t, f.read)

	// 失败只记录日志
	ApplySocketOptions(&fakeBuffers{fail: true}, pkgif.SocketOptions{SendBuffer: 1, ReceiveBuffer: 1})

	// 不支持缓冲设置的对象被忽略
	ApplySocketOptions(struct{}{}, pkgif.SocketOptions{SendBuffer: 1})
}
