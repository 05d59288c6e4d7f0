// Package handler 实现网关命令字处理器
package handler

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// ErrInvalidMessage 消息字段不合法
var ErrInvalidMessage = errors.New("invalid gateway push message")

// GatewayPushMessage 网关推送消息
//
// 由业务节点发往网关，网关再投递给目标用户的在线连接。包体为 CBOR 编码。
type GatewayPushMessage struct {
	UserID     string   `cbor:"1,keyasint,omitempty"`
	ClientType int      `cbor:"2,keyasint,omitempty"`
	Timeout    int      `cbor:"3,keyasint,omitempty"` // 毫秒
	TaskID     string   `cbor:"4,keyasint,omitempty"`
	Tags       []string `cbor:"5,keyasint,omitempty"`
	Condition  string   `cbor:"6,keyasint,omitempty"`
	Broadcast  bool     `cbor:"7,keyasint,omitempty"`
	AckModel   byte     `cbor:"8,keyasint,omitempty"`
	Content    []byte   `cbor:"9,keyasint"`
}

// Validate 校验消息
func (m *GatewayPushMessage) Validate() error {
	if !m.Broadcast && m.UserID == "" {
		return fmt.Errorf("%w: user id required", ErrInvalidMessage)
	}
	if len(m.Content) == 0 {
		return fmt.Errorf("%w: empty content", ErrInvalidMessage)
	}
	if m.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidMessage)
	}
	return nil
}

// OkMessage 推送成功响应
type OkMessage struct {
	TaskID string `cbor:"1,keyasint,omitempty"`
	Data   string `cbor:"2,keyasint,omitempty"`
}

// ErrorMessage 推送失败响应
type ErrorMessage struct {
	TaskID string `cbor:"1,keyasint,omitempty"`
	Code   byte   `cbor:"2,keyasint"`
	Reason string `cbor:"3,keyasint,omitempty"`
}

// 错误码
const (
	CodeUnknown      byte = 0
	CodeDecodeFailed byte = 1
	CodeInvalid      byte = 2
	CodePushFailed   byte = 3
)

// ============================================================================
//                              编解码
// ============================================================================

var (
	codecOnce sync.Once
	encMode   cbor.EncMode
	decMode   cbor.DecMode
	codecErr  error
)

func modes() (cbor.EncMode, cbor.DecMode, error) {
	codecOnce.Do(func() {
		encMode, codecErr = cbor.CanonicalEncOptions().EncMode()
		if codecErr != nil {
			return
		}
		decMode, codecErr = cbor.DecOptions{}.DecMode()
	})
	return encMode, decMode, codecErr
}

// Marshal CBOR 编码
func Marshal(v any) ([]byte, error) {
	em, _, err := modes()
	if err != nil {
		return nil, err
	}
	return em.Marshal(v)
}

// Unmarshal CBOR 解码
func Unmarshal(data []byte, v any) error {
	_, dm, err := modes()
	if err != nil {
		return err
	}
	return dm.Unmarshal(data, v)
}
