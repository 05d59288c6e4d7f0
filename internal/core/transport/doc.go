// Package transport 实现网关监听 socket 的传输选择
//
// 传输选择由两个相互独立的决策组成：
//
//   - 通道工厂：决定如何接受连接（tcp / quic / sctp）
//   - 选择器提供者：决定底层 socket 从哪里来
//
// 对应关系：
//
//	Stream           → tcp.Factory  + provider.Default
//	ReliableDatagram → quic.Factory + quic.Provider（必须配对，否则绑定失败）
//	MultiStreaming   → sctp.Factory + provider.Default
//
// 新增传输时增加一个 TransportKind 取值和一个 case 即可。
//
// # 使用示例
//
//	sel := transport.SelectByName(cfg.Gateway.Transport)
//	acceptor, err := sel.Factory.NewAcceptor(ctx, sel.Provider, ":3001", opts)
//
// # Fx 模块集成
//
//	app := fx.New(
//	    transport.Module(),
//	    fx.Invoke(func(sel transport.Selection) { ... }),
//	)
//
// 公共接口：pkg/interfaces/transport.go
package transport
