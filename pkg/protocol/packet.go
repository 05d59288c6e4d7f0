package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// HeaderLen 包头长度
const HeaderLen = 13

// HeartbeatByte 心跳包字节
const HeartbeatByte byte = 0xDF

// 包标志位
const (
	FlagCrypto   byte = 1
	FlagCompress byte = 2
	FlagBizAck   byte = 4
	FlagAutoAck  byte = 8
)

// Packet 解码后的逻辑包
type Packet struct {
	Cmd       Command
	CC        uint16
	Flags     byte
	SessionID uint32
	LRC       byte
	Body      []byte

	heartbeat bool
}

// NewPacket 创建指定命令字的包
func NewPacket(cmd Command, sessionID uint32, body []byte) *Packet {
	return &Packet{Cmd: cmd, SessionID: sessionID, Body: body}
}

// NewHeartbeat 创建心跳包
func NewHeartbeat() *Packet {
	return &Packet{Cmd: CmdHeartbeat, heartbeat: true}
}

// IsHeartbeat 是否为单字节心跳包
func (p *Packet) IsHeartbeat() bool {
	return p.heartbeat
}

// Size 返回包在线路上的字节数，流量整形和水位线都按这个值记账
func (p *Packet) Size() int {
	if p.heartbeat {
		return 1
	}
	return HeaderLen + len(p.Body)
}

// HasFlag 判断标志位
func (p *Packet) HasFlag(flag byte) bool {
	return p.Flags&flag != 0
}

// Response 创建使用相同 sessionId 的响应包
func (p *Packet) Response(cmd Command, body []byte) *Packet {
	return &Packet{Cmd: cmd, SessionID: p.SessionID, Body: body}
}

// String 返回便于日志输出的描述
func (p *Packet) String() string {
	if p.heartbeat {
		return "Packet{HEARTBEAT}"
	}
	return fmt.Sprintf("Packet{cmd=%s, session=%d, flags=%d, body=%d}", p.Cmd, p.SessionID, p.Flags, len(p.Body))
}

// ============================================================================
//                              校验
// ============================================================================

// CheckCode 包体逐字节累加
func CheckCode(body []byte) uint16 {
	var cc uint16
	for _, b := range body {
		cc += uint16(b)
	}
	return cc
}

// headerBytes 写入头部前 12 字节（不含 lrc）
func (p *Packet) headerBytes(dst []byte) {
	binary.BigEndian.PutUint32(dst[0:4], uint32(len(p.Body)))
	dst[4] = byte(p.Cmd)
	binary.BigEndian.PutUint16(dst[5:7], p.CC)
	dst[7] = p.Flags
	binary.BigEndian.PutUint32(dst[8:12], p.SessionID)
}

// CalcLRC 计算头部异或校验
func (p *Packet) CalcLRC() byte {
	var hdr [HeaderLen - 1]byte
	p.headerBytes(hdr[:])
	var lrc byte
	for _, b := range hdr {
		lrc ^= b
	}
	return lrc
}

// ============================================================================
//                              压缩
// ============================================================================

// Compress 压缩包体并设置 FlagCompress
func (p *Packet) Compress() error {
	if p.HasFlag(FlagCompress) || len(p.Body) == 0 {
		return nil
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(p.Body); err != nil {
		return fmt.Errorf("compress body: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress body: %w", err)
	}
	p.Body = buf.Bytes()
	p.Flags |= FlagCompress
	return nil
}

// decompress 解压包体，limit 限制解压后大小
func (p *Packet) decompress(limit int) error {
	zr, err := zlib.NewReader(bytes.NewReader(p.Body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptBody, err)
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, int64(limit)+1))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptBody, err)
	}
	if len(out) > limit {
		return ErrPacketTooLarge
	}
	p.Body = out
	p.Flags &^= FlagCompress
	return nil
}
