package config

import (
	"errors"
	"time"
)

// NetConfig 网络层配置
type NetConfig struct {
	// SndBuf 子连接 SO_SNDBUF，0 表示使用系统默认
	SndBuf int `json:"snd_buf"`

	// RcvBuf 子连接 SO_RCVBUF，0 表示使用系统默认
	RcvBuf int `json:"rcv_buf"`

	// ReusePort 流式监听器启用 SO_REUSEPORT
	ReusePort bool `json:"reuse_port,omitempty"`

	// TrafficShaping 流量整形
	TrafficShaping TrafficShapingConfig `json:"traffic_shaping"`

	// WriteBufferWaterMark 写缓冲水位线
	WriteBufferWaterMark WaterMarkConfig `json:"write_buffer_water_mark"`
}

// TrafficShapingConfig 流量整形配置
//
// 所有限速单位为 字节/秒，0 表示该维度不限速。
type TrafficShapingConfig struct {
	// Enabled 是否启用流量整形，只在初始化时读取一次
	Enabled bool `json:"enabled"`

	// WriteGlobalLimit 全局写限速
	WriteGlobalLimit int64 `json:"write_global_limit"`

	// ReadGlobalLimit 全局读限速
	ReadGlobalLimit int64 `json:"read_global_limit"`

	// WriteChannelLimit 单连接写限速
	WriteChannelLimit int64 `json:"write_channel_limit"`

	// ReadChannelLimit 单连接读限速
	ReadChannelLimit int64 `json:"read_channel_limit"`

	// CheckInterval 统计周期
	CheckInterval Duration `json:"check_interval"`

	// MaxWait 单次整形等待上限
	MaxWait Duration `json:"max_wait"`
}

// WaterMarkConfig 写缓冲水位线配置（字节）
//
// 只有 0 < Low < High 时才会覆盖默认值，其他组合回退到默认的 32K/64K。
type WaterMarkConfig struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

// DefaultNetConfig 返回默认网络配置
func DefaultNetConfig() NetConfig {
	return NetConfig{
		TrafficShaping: TrafficShapingConfig{
			Enabled:           false,
			WriteGlobalLimit:  30 * 1024,
			ReadGlobalLimit:   0,
			WriteChannelLimit: 3 * 1024,
			ReadChannelLimit:  0,
			CheckInterval:     Duration(100 * time.Millisecond),
			MaxWait:           Duration(15 * time.Second),
		},
	}
}

// Validate 验证网络配置
//
// 负的缓冲区大小、负的限速值按 0 处理，不在这里报错。
func (c NetConfig) Validate() error {
	if c.TrafficShaping.Enabled && c.TrafficShaping.CheckInterval < 0 {
		return errors.New("traffic shaping check interval must be non-negative")
	}
	return nil
}
