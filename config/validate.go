package config

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ValidateAll 验证整个配置的有效性
func ValidateAll(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	return c.Validate()
}

// MustValidate 验证配置，如果失败则 panic
//
// 仅用于初始化阶段或测试代码。
func MustValidate(c *Config) {
	if err := ValidateAll(c); err != nil {
		panic(fmt.Sprintf("invalid config: %v", err))
	}
}

// ============================================================================
//                              进程级配置
// ============================================================================

var global atomic.Pointer[Config]

// SetGlobal 设置进程级配置，必须在第一次获取网关实例之前调用
func SetGlobal(c *Config) {
	global.Store(c)
}

// Global 返回进程级配置，未设置时返回默认配置
func Global() *Config {
	if c := global.Load(); c != nil {
		return c
	}
	c := NewConfig()
	if global.CompareAndSwap(nil, c) {
		return c
	}
	return global.Load()
}
