package interfaces

import (
	"net"
	"time"

	"github.com/mpush/go-mpush/pkg/protocol"
)

// Connection 网关视角的一条下游连接
type Connection interface {
	// ID 连接唯一标识
	ID() string

	// RemoteAddr 远端地址
	RemoteAddr() net.Addr

	// TransportKind 连接所属传输类型
	TransportKind() TransportKind

	// Send 将包放入出站队列，不等待写出
	//
	// 调用方应先检查 IsWritable；水位线只提供信号，不会拒绝写入。
	Send(p *protocol.Packet) error

	// IsWritable 出站缓冲是否低于高水位
	IsWritable() bool

	// PendingBytes 出站队列中尚未写出的字节数
	PendingBytes() int64

	// LastReadTime 最近一次收到数据的时间
	LastReadTime() time.Time

	// IsClosed 是否已关闭
	IsClosed() bool

	// Close 关闭连接，可重复调用
	Close() error
}

// ConnectionManager 连接注册表
type ConnectionManager interface {
	// Add 注册连接
	Add(c Connection)

	// Get 按 ID 查找连接
	Get(id string) (Connection, bool)

	// RemoveAndClose 注销并关闭连接
	RemoveAndClose(id string) (Connection, bool)

	// Count 当前连接数
	Count() int

	// Destroy 关闭所有连接并停止后台任务，可重复调用
	Destroy()
}
