package config

import "errors"

// ThreadConfig 线程池配置
type ThreadConfig struct {
	// GatewayServerWork 网关 worker 数量，0 表示使用 GOMAXPROCS
	GatewayServerWork int `json:"gateway_server_work"`
}

// DefaultThreadConfig 返回默认线程池配置
func DefaultThreadConfig() ThreadConfig {
	return ThreadConfig{GatewayServerWork: 0}
}

// Validate 验证线程池配置
func (c ThreadConfig) Validate() error {
	if c.GatewayServerWork < 0 {
		return errors.New("gateway server work threads must be non-negative")
	}
	return nil
}

// LogConfig 日志配置
type LogConfig struct {
	// Level debug/info/warn/error
	Level string `json:"level"`

	// Format text/json
	Format string `json:"format"`
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info", Format: "text"}
}

// Validate 验证日志配置
func (c LogConfig) Validate() error {
	switch c.Format {
	case "", "text", "json":
		return nil
	default:
		return errors.New("log format must be text or json")
	}
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// ListenAddr Prometheus /metrics 监听地址，空字符串表示不导出
	ListenAddr string `json:"listen_addr,omitempty"`
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{}
}

// Validate 验证指标配置
func (c MetricsConfig) Validate() error {
	return nil
}
