// Package quic 提供 ReliableDatagram 传输族的选择器提供者与通道工厂
//
// 每条 QUIC 连接上客户端打开的第一条双向流作为一条网关逻辑连接，
// 关闭逻辑连接即关闭整条 QUIC 连接。
package quic

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/quic-go/quic-go"

	"github.com/mpush/go-mpush/internal/core/transport/provider"
	pkgif "github.com/mpush/go-mpush/pkg/interfaces"
	"github.com/mpush/go-mpush/pkg/lib/log"
)

var logger = log.Logger("core/transport/quic")

// ProviderName 提供者名称
const ProviderName = "quic"

// Provider QUIC 选择器提供者
//
// 在默认提供者之上持有共享的 UDP socket 与 quic.Transport。
type Provider struct {
	*provider.Default

	mu         sync.Mutex
	transports []*quic.Transport
}

var _ pkgif.SelectorProvider = (*Provider)(nil)

// NewProvider 创建 QUIC 提供者
func NewProvider() *Provider {
	return &Provider{Default: provider.NewDefault()}
}

// Name 实现 SelectorProvider
func (p *Provider) Name() string {
	return ProviderName
}

// ListenQUIC 打开 UDP socket 并在其上启动 QUIC 监听
func (p *Provider) ListenQUIC(ctx context.Context, address string, opts pkgif.SocketOptions,
	tlsConf *tls.Config, conf *quic.Config) (*quic.Listener, *quic.Transport, error) {
	pc, err := p.ListenPacket(ctx, address)
	if err != nil {
		return nil, nil, err
	}
	provider.ApplySocketOptions(pc, opts)

	tr := &quic.Transport{Conn: pc}
	ln, err := tr.Listen(tlsConf, conf)
	if err != nil {
		_ = tr.Close()
		_ = pc.Close()
		return nil, nil, fmt.Errorf("quic listen %s: %w", address, err)
	}

	p.mu.Lock()
	p.transports = append(p.transports, tr)
	p.mu.Unlock()
	return ln, tr, nil
}

// release 释放 tr 及其 UDP socket
func (p *Provider) release(tr *quic.Transport) {
	p.mu.Lock()
	for i, t := range p.transports {
		if t == tr {
			p.transports = append(p.transports[:i], p.transports[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	_ = tr.Close()
	_ = tr.Conn.Close()
}

// Open 返回当前持有的 quic.Transport 数量
func (p *Provider) Open() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.transports)
}
