package interfaces

import (
	"context"
	"net"
	"strings"
)

// TransportKind 网关监听 socket 使用的传输类型
//
// 在绑定时从配置选定一次，之后在网关生命周期内不可变。
type TransportKind int

const (
	// TransportStream 有序字节流（TCP）
	TransportStream TransportKind = iota

	// TransportReliableDatagram 基于 UDP 的可靠传输（QUIC，对应 mpush 的 UDT）
	TransportReliableDatagram

	// TransportMultiStreaming 多流传输（SCTP）
	TransportMultiStreaming
)

// String 返回传输类型名
func (k TransportKind) String() string {
	switch k {
	case TransportStream:
		return "stream"
	case TransportReliableDatagram:
		return "reliable-datagram"
	case TransportMultiStreaming:
		return "multi-streaming"
	default:
		return "unknown"
	}
}

// ParseTransportKind 解析配置中的传输类型
//
// 支持 mpush 取值（tcp/udt/sctp）与描述性别名。未知取值返回 TransportStream 和 false，
// 调用方应记录告警后按 Stream 继续。
func ParseTransportKind(s string) (TransportKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tcp", "stream":
		return TransportStream, true
	case "udt", "quic", "reliable-datagram":
		return TransportReliableDatagram, true
	case "sctp", "multi-streaming":
		return TransportMultiStreaming, true
	default:
		return TransportStream, false
	}
}

// SocketOptions 子连接 socket 选项，0 表示使用系统默认
type SocketOptions struct {
	SendBuffer    int
	ReceiveBuffer int
}

// SelectorProvider 负责创建底层 socket
//
// 对应 Netty 的 SelectorProvider：通道工厂决定"如何接受连接"，
// 提供者决定"socket 从哪里来"。两者在绑定时配对使用。
type SelectorProvider interface {
	// Name 提供者名称，用于日志和配对检查的错误信息
	Name() string

	// ListenStream 打开流式监听 socket
	ListenStream(ctx context.Context, address string) (net.Listener, error)

	// ListenPacket 打开数据报 socket
	ListenPacket(ctx context.Context, address string) (net.PacketConn, error)

	// ListenDatagramSessions 打开按远端地址分流的数据报监听器，每个远端一个 net.Conn
	ListenDatagramSessions(ctx context.Context, address string) (net.Listener, error)
}

// ChannelFactory 为某一传输族创建服务端接收器
type ChannelFactory interface {
	// Kind 返回工厂服务的传输类型
	Kind() TransportKind

	// Name 工厂名称
	Name() string

	// NewAcceptor 使用 provider 在 address 上绑定
	//
	// provider 与工厂不属于同一传输族时必须立即返回错误，不得静默回退。
	NewAcceptor(ctx context.Context, provider SelectorProvider, address string, opts SocketOptions) (Acceptor, error)
}

// Acceptor 服务端接收器，产出的每个 net.Conn 是一条逻辑连接
type Acceptor interface {
	// Accept 阻塞直到有新连接、ctx 结束或接收器关闭
	Accept(ctx context.Context) (net.Conn, error)

	// Addr 返回实际监听地址
	Addr() net.Addr

	// Close 关闭接收器并解除 Accept 阻塞，可重复调用
	Close() error
}
