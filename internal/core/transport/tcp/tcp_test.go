package tcp

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpush/go-mpush/internal/core/transport/provider"
	pkgif "github.com/mpush/go-mpush/pkg/interfaces"
)

func TestFactory_Identity(t *testing.T) {
	f := NewFactory()
	assert.Equal(t, pkgif.TransportStream, f.Kind())
	assert.Equal(t, Name, f.Name())
}

func TestFactory_NilProvider(t *testing.T) {
	_, err := NewFactory().NewAcceptor(context.Background(), nil, "127.0.0.1:0", pkgif.SocketOptions{})
	assert.True(t, errors.Is(err, provider.ErrProviderMismatch))
}

func TestAcceptor_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := NewFactory().NewAcceptor(ctx, provider.NewDefault(), "127.0.0.1:0",
		pkgif.SocketOptions{SendBuffer: 32 * 1024, ReceiveBuffer: 32 * 1024})
	require.NoError(t, err)
	defer a.Close()

	done := make(chan error, 1)
	go func() {
		c, err := Dial(ctx, a.Addr().String())
		if err != nil {
			done <- err
			return
		}
		defer c.Close()
		_, err = c.Write([]byte("ping"))
		done <- err
	}()

	conn, err := a.Accept(ctx)
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
	require.NoError(t, <-done)
}

func TestAcceptor_CloseUnblocksAccept(t *testing.T) {
	a, err := NewFactory().NewAcceptor(context.Background(), provider.NewDefault(), "127.0.0.1:0", pkgif.SocketOptions{})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := a.Accept(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, provider.ErrAcceptorClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("Accept 未被 Close 唤醒")
	}

	_, err = a.Accept(context.Background())
	assert.True(t, errors.Is(err, provider.ErrAcceptorClosed))
}

func TestAcceptor_ContextCancel(t *testing.T) {
	a, err := NewFactory().NewAcceptor(context.Background(), provider.NewDefault(), "127.0.0.1:0", pkgif.SocketOptions{})
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = a.Accept(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFactory_BindConflict(t *testing.T) {
	a, err := NewFactory().NewAcceptor(context.Background(), provider.NewDefault(), "127.0.0.1:0", pkgif.SocketOptions{})
	require.NoError(t, err)
	defer a.Close()

	_, err = NewFactory().NewAcceptor(context.Background(), provider.NewDefault(), a.Addr().String(), pkgif.SocketOptions{})
	assert.Error(t, err)
}
