package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// 错误定义
var (
	// ErrPacketTooLarge 包体超过上限
	ErrPacketTooLarge = errors.New("packet body too large")

	// ErrBadLRC 头部校验失败
	ErrBadLRC = errors.New("packet header lrc mismatch")

	// ErrCorruptBody 压缩包体无法解压
	ErrCorruptBody = errors.New("corrupt packet body")
)

// DefaultMaxPacketSize 默认包体上限
const DefaultMaxPacketSize = 10 * 1024

// Encode 将包编码写入 w
//
// cc 与 lrc 在编码时重新计算。
func Encode(w io.Writer, p *Packet) error {
	_, err := w.Write(AppendEncode(nil, p))
	return err
}

// AppendEncode 将包编码追加到 dst
func AppendEncode(dst []byte, p *Packet) []byte {
	if p.heartbeat {
		return append(dst, HeartbeatByte)
	}
	p.CC = CheckCode(p.Body)
	p.LRC = p.CalcLRC()

	var hdr [HeaderLen]byte
	p.headerBytes(hdr[:])
	hdr[HeaderLen-1] = p.LRC

	dst = append(dst, hdr[:]...)
	return append(dst, p.Body...)
}

// Decoder 从字节流中切分并解码包
//
// 非并发安全，每个连接的读 goroutine 独占一个 Decoder。
type Decoder struct {
	r             *bufio.Reader
	maxPacketSize int
	hdr           [HeaderLen]byte
}

// NewDecoder 创建解码器，maxPacketSize <= 0 时使用默认上限
func NewDecoder(r io.Reader, maxPacketSize int) *Decoder {
	if maxPacketSize <= 0 {
		maxPacketSize = DefaultMaxPacketSize
	}
	return &Decoder{r: bufio.NewReader(r), maxPacketSize: maxPacketSize}
}

// Decode 读取下一个包
//
// 返回 io.EOF 表示对端正常关闭。
func (d *Decoder) Decode() (*Packet, error) {
	first, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if first == HeartbeatByte {
		return NewHeartbeat(), nil
	}

	d.hdr[0] = first
	if _, err := io.ReadFull(d.r, d.hdr[1:]); err != nil {
		return nil, unexpected(err)
	}

	length := binary.BigEndian.Uint32(d.hdr[0:4])
	if length > uint32(d.maxPacketSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrPacketTooLarge, length, d.maxPacketSize)
	}

	p := &Packet{
		Cmd:       Command(d.hdr[4]),
		CC:        binary.BigEndian.Uint16(d.hdr[5:7]),
		Flags:     d.hdr[7],
		SessionID: binary.BigEndian.Uint32(d.hdr[8:12]),
		LRC:       d.hdr[12],
	}
	if length > 0 {
		p.Body = make([]byte, length)
		if _, err := io.ReadFull(d.r, p.Body); err != nil {
			return nil, unexpected(err)
		}
	}

	if p.LRC != p.CalcLRC() {
		return nil, ErrBadLRC
	}
	if p.HasFlag(FlagCompress) {
		if err := p.decompress(d.maxPacketSize); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// unexpected 包中途断开时把 EOF 转为 ErrUnexpectedEOF
func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
