// Package config 提供 mpush 网关的统一配置管理
//
// 本包采用与各组件一一对应的分文件配置：
//   - 主 Config 结构体嵌入所有子配置
//   - 每个子配置在独立文件中定义，并提供 DefaultXxx() 与 Validate()
//   - 支持从 JSON 文件加载，支持 MPUSH_ 前缀的环境变量覆盖
//
// 使用示例：
//
//	cfg, err := config.LoadFile("mpush.json")
//	if err != nil { ... }
//	config.ApplyEnv(cfg)
//	config.SetGlobal(cfg)
//
// 校验策略：只有会导致网关无法运行的值（端口越界、负的线程数等）才会报错；
// 水位线不一致、未知传输类型等"配置不一致"一律回退到文档化的默认行为，
// 由使用方在运行时记录告警。
package config

// Config 是网关的完整配置结构
//
// 配置按照功能模块组织：
//   - Gateway: 网关监听端口、传输类型、包大小
//   - Net: socket 缓冲区、流量整形、写缓冲水位线
//   - Thread: 工作线程池
//   - Log: 日志
//   - Metrics: 指标导出
type Config struct {
	// Gateway 网关服务配置
	Gateway GatewayConfig `json:"gateway"`

	// Net 网络层配置
	Net NetConfig `json:"net"`

	// Thread 线程池配置
	Thread ThreadConfig `json:"thread"`

	// Log 日志配置
	Log LogConfig `json:"log"`

	// Metrics 指标配置
	Metrics MetricsConfig `json:"metrics"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Gateway: DefaultGatewayConfig(),
		Net:     DefaultNetConfig(),
		Thread:  DefaultThreadConfig(),
		Log:     DefaultLogConfig(),
		Metrics: DefaultMetricsConfig(),
	}
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if err := c.Gateway.Validate(); err != nil {
		return err
	}
	if err := c.Net.Validate(); err != nil {
		return err
	}
	if err := c.Thread.Validate(); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return c.Metrics.Validate()
}
