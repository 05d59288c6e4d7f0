package transport

import (
	"github.com/mpush/go-mpush/config"
	"github.com/mpush/go-mpush/internal/core/transport/provider"
	"github.com/mpush/go-mpush/internal/core/transport/quic"
	"github.com/mpush/go-mpush/internal/core/transport/sctp"
	"github.com/mpush/go-mpush/internal/core/transport/tcp"
	pkgif "github.com/mpush/go-mpush/pkg/interfaces"
	"github.com/mpush/go-mpush/pkg/lib/log"
)

var logger = log.Logger("core/transport")

// Selection 一次传输决策的结果，工厂与提供者必须配对使用
type Selection struct {
	Kind     pkgif.TransportKind
	Factory  pkgif.ChannelFactory
	Provider pkgif.SelectorProvider
}

// ============================================================================
//                              选择
// ============================================================================

// ChannelFactoryFor 返回 kind 对应的通道工厂
//
// 未知 kind 记录告警并回退到 Stream。
func ChannelFactoryFor(kind pkgif.TransportKind) pkgif.ChannelFactory {
	switch kind {
	case pkgif.TransportStream:
		return tcp.NewFactory()
	case pkgif.TransportReliableDatagram:
		return quic.NewFactory(quic.DefaultConfig())
	case pkgif.TransportMultiStreaming:
		return sctp.NewFactory()
	default:
		logger.Warn("未知传输类型，回退到 stream", "kind", int(kind))
		return tcp.NewFactory()
	}
}

// SelectorProviderFor 返回 kind 对应的选择器提供者
//
// 只有 ReliableDatagram 需要专用提供者，其余使用默认提供者。
func SelectorProviderFor(kind pkgif.TransportKind) pkgif.SelectorProvider {
	switch kind {
	case pkgif.TransportReliableDatagram:
		return quic.NewProvider()
	default:
		return provider.NewDefault()
	}
}

// Select 同时决定工厂与提供者
func Select(kind pkgif.TransportKind) Selection {
	switch kind {
	case pkgif.TransportStream, pkgif.TransportReliableDatagram, pkgif.TransportMultiStreaming:
	default:
		logger.Warn("未知传输类型，回退到 stream", "kind", int(kind))
		kind = pkgif.TransportStream
	}
	return Selection{
		Kind:     kind,
		Factory:  ChannelFactoryFor(kind),
		Provider: SelectorProviderFor(kind),
	}
}

// SelectByName 按配置取值选择传输
func SelectByName(name string) Selection {
	kind, known := pkgif.ParseTransportKind(name)
	if !known {
		logger.Warn("未知传输配置，回退到 stream", "transport", name)
	}
	return Select(kind)
}

// FromConfig 按网关配置选择传输
func FromConfig(cfg *config.Config) Selection {
	if cfg == nil {
		return Select(pkgif.TransportStream)
	}
	sel := SelectByName(cfg.Gateway.Transport)
	if d, ok := sel.Provider.(*provider.Default); ok && cfg.Net.ReusePort {
		d.ReusePort = true
	}
	return sel
}
