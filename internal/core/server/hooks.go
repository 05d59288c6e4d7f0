// Package server 实现通用的接入服务端
//
// Server 负责绑定、boss accept 循环、每连接的读写 goroutine 与 worker 池；
// 具体服务通过实现 Hooks 提供连接处理器、传输选择、线程命名与处理链扩展。
//
// 线程模型：
//
//   - boss：单 goroutine，只做 accept
//   - 每连接读/写 goroutine：解码、入站阶段、编码写出
//   - worker 池：按连接 ID 亲和执行尾部处理器，同一连接的事件严格有序
package server

import (
	"time"

	"github.com/mpush/go-mpush/internal/core/pipeline"
	"github.com/mpush/go-mpush/internal/core/watermark"
	pkgif "github.com/mpush/go-mpush/pkg/interfaces"
)

// Hooks 服务端能力接口
type Hooks interface {
	// ChannelHandler 处理链尾部处理器
	ChannelHandler() pipeline.ChannelHandler

	// ChannelFactory 传输通道工厂
	ChannelFactory() pkgif.ChannelFactory

	// SelectorProvider 与工厂配对的 socket 提供者
	SelectorProvider() pkgif.SelectorProvider

	// BossThreadName accept goroutine 的 pprof 线程名
	BossThreadName() string

	// WorkerThreadName worker goroutine 的 pprof 线程名前缀
	WorkerThreadName() string

	// IORatio worker 用于 I/O 的时间占比，100 表示 worker 不执行周期任务
	IORatio() int

	// WorkerThreadNum worker 数量，<= 0 使用默认值
	WorkerThreadNum() int

	// InitPipeline 在服务端自身阶段之后追加阶段
	InitPipeline(p *pipeline.Pipeline) error

	// InitOptions 设置子连接选项
	InitOptions(opts *ChildOptions)
}

// Housekeeper 可选接口，需要周期维护（如空闲连接清理）的服务实现
type Housekeeper interface {
	HousekeepingInterval() time.Duration
	Housekeep(now time.Time)
}

// Observer 服务端事件观察者，用于指标导出
type Observer interface {
	Accepted(transport string)
	AcceptError()
	WritabilityChanged(writable bool)
}

// ChildOptions 子连接选项
type ChildOptions struct {
	// Socket 发送/接收缓冲区，0 表示系统默认
	Socket pkgif.SocketOptions

	// WaterMark 写缓冲水位线，High <= 0 表示使用默认水位
	WaterMark watermark.WaterMark

	// MaxPacketSize 单包上限，<= 0 使用协议默认值
	MaxPacketSize int
}
