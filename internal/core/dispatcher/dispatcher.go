// Package dispatcher 实现按命令字分发的消息分发器
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pkgif "github.com/mpush/go-mpush/pkg/interfaces"
	"github.com/mpush/go-mpush/pkg/lib/log"
	"github.com/mpush/go-mpush/pkg/protocol"
)

var logger = log.Logger("core/dispatcher")

var (
	// ErrNoHandler 命令字没有注册处理器
	ErrNoHandler = errors.New("no handler")

	// ErrDuplicateHandler 命令字重复注册
	ErrDuplicateHandler = errors.New("handler already registered")
)

// UnknownPolicy 未知命令字的处理策略
type UnknownPolicy int

const (
	// PolicyIgnore 静默丢弃
	PolicyIgnore UnknownPolicy = iota

	// PolicyLog 记录日志后丢弃
	PolicyLog

	// PolicyReject 回复 ERROR 包
	PolicyReject
)

// Result 分发结果，用于指标导出
type Result string

// 分发结果
const (
	ResultOK        Result = "ok"
	ResultError     Result = "error"
	ResultNoHandler Result = "no_handler"
)

// ============================================================================
//                              MessageDispatcher 实现
// ============================================================================

// MessageDispatcher 消息分发器
//
// 处理器在启动前注册完成，运行期只读。
type MessageDispatcher struct {
	mu       sync.RWMutex
	handlers map[protocol.Command]pkgif.MessageHandler
	policy   UnknownPolicy

	// onResult 每次分发后回调
	onResult func(cmd protocol.Command, r Result)
}

var _ pkgif.PacketReceiver = (*MessageDispatcher)(nil)

// Option 分发器选项
type Option func(*MessageDispatcher)

// WithUnknownPolicy 设置未知命令字策略，默认 PolicyLog
func WithUnknownPolicy(p UnknownPolicy) Option {
	return func(d *MessageDispatcher) {
		d.policy = p
	}
}

// WithResultObserver 设置分发结果回调
func WithResultObserver(fn func(cmd protocol.Command, r Result)) Option {
	return func(d *MessageDispatcher) {
		d.onResult = fn
	}
}

// New 创建分发器
func New(opts ...Option) *MessageDispatcher {
	d := &MessageDispatcher{
		handlers: make(map[protocol.Command]pkgif.MessageHandler),
		policy:   PolicyLog,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register 注册命令字处理器
func (d *MessageDispatcher) Register(cmd protocol.Command, h pkgif.MessageHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.handlers[cmd]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, cmd)
	}
	d.handlers[cmd] = h
	logger.Debug("注册消息处理器", "cmd", cmd.String())
	return nil
}

// Commands 返回已注册的命令字数量
func (d *MessageDispatcher) Commands() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

// Handler 返回 cmd 的处理器
func (d *MessageDispatcher) Handler(cmd protocol.Command) (pkgif.MessageHandler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[cmd]
	return h, ok
}

// OnReceive 实现 PacketReceiver
//
// 未注册的命令字按策略处理并返回 ErrNoHandler。
func (d *MessageDispatcher) OnReceive(ctx context.Context, p *protocol.Packet, conn pkgif.Connection) error {
	h, ok := d.Handler(p.Cmd)
	if !ok {
		d.result(p.Cmd, ResultNoHandler)
		d.unknown(p, conn)
		return fmt.Errorf("%w: cmd=%s", ErrNoHandler, p.Cmd)
	}

	if err := h.Handle(ctx, p, conn); err != nil {
		d.result(p.Cmd, ResultError)
		logger.Warn("消息处理失败", "cmd", p.Cmd.String(), "conn", log.TruncateID(conn.ID(), 8), "error", err)
		return fmt.Errorf("handle %s: %w", p.Cmd, err)
	}
	d.result(p.Cmd, ResultOK)
	return nil
}

func (d *MessageDispatcher) unknown(p *protocol.Packet, conn pkgif.Connection) {
	switch d.policy {
	case PolicyIgnore:
	case PolicyReject:
		reply := p.Response(protocol.CmdError, []byte(ErrNoHandler.Error()))
		if err := conn.Send(reply); err != nil {
			logger.Debug("回复 ERROR 失败", "error", err)
		}
		fallthrough
	default:
		logger.Warn("未知命令字", "cmd", p.Cmd.String(), "conn", log.TruncateID(conn.ID(), 8))
	}
}

func (d *MessageDispatcher) result(cmd protocol.Command, r Result) {
	if d.onResult != nil {
		d.onResult(cmd, r)
	}
}
