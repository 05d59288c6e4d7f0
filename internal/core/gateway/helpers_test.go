package gateway

import (
	"net"
	"sync"
	"time"

	pkgif "github.com/mpush/go-mpush/pkg/interfaces"
	"github.com/mpush/go-mpush/pkg/protocol"
)

type fakeConn struct {
	mu   sync.Mutex
	sent []*protocol.Packet
}

func (f *fakeConn) ID() string                         { return "fake-conn-0001" }
func (f *fakeConn) RemoteAddr() net.Addr               { return nil }
func (f *fakeConn) TransportKind() pkgif.TransportKind { return pkgif.TransportStream }
func (f *fakeConn) IsWritable() bool                   { return true }
func (f *fakeConn) PendingBytes() int64                { return 0 }
func (f *fakeConn) LastReadTime() time.Time            { return time.Time{} }
func (f *fakeConn) IsClosed() bool                     { return false }
func (f *fakeConn) Close() error                       { return nil }
func (f *fakeConn) Send(p *protocol.Packet) error {
	f.mu.Lock()
	f.sent = append(f.sent, p)
	f.mu.Unlock()
	return nil
}

type countingListener struct {
	mu        sync.Mutex
	successes int
	failures  int
}

func (l *countingListener) OnSuccess(...any) {
	l.mu.Lock()
	l.successes++
	l.mu.Unlock()
}

func (l *countingListener) OnFailure(error) {
	l.mu.Lock()
	l.failures++
	l.mu.Unlock()
}
