package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "MPUSH_"

// 支持的环境变量（均使用 MPUSH_ 前缀）
const (
	EnvGatewayPort      = "GATEWAY_PORT"
	EnvGatewayTransport = "GATEWAY_TRANSPORT"
	EnvWorkThreads      = "GATEWAY_WORK_THREADS"
	EnvShapingEnabled   = "TRAFFIC_SHAPING_ENABLED"
	EnvCheckInterval    = "TRAFFIC_SHAPING_CHECK_INTERVAL"
	EnvLogLevel         = "LOG_LEVEL"
	EnvLogFormat        = "LOG_FORMAT"
	EnvMetricsAddr      = "METRICS_ADDR"
)

// FromJSON 从 JSON 数据创建配置
//
// 未出现的字段保留默认值。
//
//	{
//	  "gateway": {"port": 3001, "transport": "sctp"},
//	  "net": {"traffic_shaping": {"enabled": true, "write_global_limit": 1000000}}
//	}
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// LoadFile 从 JSON 文件加载配置
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: 用户指定的配置文件路径是预期行为
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return FromJSON(data)
}

// ApplyEnv 应用环境变量覆盖配置
//
// 环境变量优先级高于配置文件，但低于命令行参数。无法解析的值被忽略。
func ApplyEnv(cfg *Config) {
	ApplyEnvFunc(cfg, os.Getenv)
}

// ApplyEnvFunc 使用指定的查找函数应用环境变量覆盖，便于测试
func ApplyEnvFunc(cfg *Config, getenv func(string) string) {
	get := func(name string) string { return strings.TrimSpace(getenv(EnvPrefix + name)) }

	if v := get(EnvGatewayPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := get(EnvGatewayTransport); v != "" {
		cfg.Gateway.Transport = v
	}
	if v := get(EnvWorkThreads); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Thread.GatewayServerWork = n
		}
	}
	if v := get(EnvShapingEnabled); v != "" {
		cfg.Net.TrafficShaping.Enabled = parseBool(v)
	}
	if v := get(EnvCheckInterval); v != "" {
		var d Duration
		if err := d.UnmarshalText([]byte(v)); err == nil {
			cfg.Net.TrafficShaping.CheckInterval = d
		}
	}
	if v := get(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := get(EnvLogFormat); v != "" {
		cfg.Log.Format = v
	}
	if v := get(EnvMetricsAddr); v != "" {
		cfg.Metrics.ListenAddr = v
	}
}

// parseBool 解析布尔值字符串
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
