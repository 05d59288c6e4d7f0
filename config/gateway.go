package config

import "errors"

// 传输类型配置值
//
// 与 mpush 的 gateway_server_net 取值保持一致，同时接受描述性别名。
const (
	TransportTCP  = "tcp"
	TransportUDT  = "udt"
	TransportSCTP = "sctp"
)

// GatewayConfig 网关服务配置
type GatewayConfig struct {
	// Host 监听地址，空字符串表示所有网卡
	Host string `json:"host,omitempty"`

	// Port 监听端口，0 表示由系统分配
	Port int `json:"port"`

	// Transport 传输类型：tcp / udt / sctp
	// 未知取值回退到 tcp
	Transport string `json:"transport"`

	// MaxPacketSize 单个包体最大字节数
	MaxPacketSize int `json:"max_packet_size"`

	// IdleTimeout 连接读空闲超时，0 表示不做心跳检测
	// 网关连接来自集群内部节点，默认不检测
	IdleTimeout Duration `json:"idle_timeout"`
}

// DefaultGatewayConfig 返回默认网关配置
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Port:          3001,         // 与 mpush gateway_server_port 一致
		Transport:     TransportTCP, // 默认流式传输
		MaxPacketSize: 10 * 1024,    // 10 KB
		IdleTimeout:   0,
	}
}

// Validate 验证网关配置
func (c GatewayConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.New("gateway port must be in [0, 65535]")
	}
	if c.MaxPacketSize <= 0 {
		return errors.New("gateway max packet size must be positive")
	}
	if c.IdleTimeout < 0 {
		return errors.New("gateway idle timeout must be non-negative")
	}
	return nil
}
