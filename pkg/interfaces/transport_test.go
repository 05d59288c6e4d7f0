package interfaces

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTransportKind(t *testing.T) {
	tests := []struct {
		in    string
		want  TransportKind
		known bool
	}{
		{"tcp", TransportStream, true},
		{"", TransportStream, true},
		{"Stream", TransportStream, true},
		{"udt", TransportReliableDatagram, true},
		{"quic", TransportReliableDatagram, true},
		{"reliable-datagram", TransportReliableDatagram, true},
		{"sctp", TransportMultiStreaming, true},
		{" multi-streaming ", TransportMultiStreaming, true},
		{"carrier-pigeon", TransportStream, false},
	}
	for _, tt := range tests {
		got, known := ParseTransportKind(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.known, known, tt.in)
	}
}

func TestTransportKind_String(t *testing.T) {
	assert.Equal(t, "stream", TransportStream.String())
	assert.Equal(t, "reliable-datagram", TransportReliableDatagram.String())
	assert.Equal(t, "multi-streaming", TransportMultiStreaming.String())
	assert.Equal(t, "unknown", TransportKind(42).String())
}

func TestListenerFuncs(t *testing.T) {
	var got []any
	var gotErr error
	l := ListenerFuncs{
		Success: func(args ...any) { got = args },
		Failure: func(err error) { gotErr = err },
	}

	NotifySuccess(l, 3001)
	NotifyFailure(l, errors.New("boom"))
	NotifySuccess(nil)
	NotifyFailure(ListenerFuncs{}, errors.New("ignored"))

	assert.Equal(t, []any{3001}, got)
	assert.EqualError(t, gotErr, "boom")
}
