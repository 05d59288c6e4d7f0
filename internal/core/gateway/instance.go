package gateway

import (
	"sync"

	"github.com/mpush/go-mpush/config"
)

// instance 进程级网关，第一次访问时用 config.Global() 构造
var instance = sync.OnceValue(func() *Gateway {
	return New(config.Global())
})

// Instance 返回进程级网关实例
//
// 并发首次访问也只会构造一个实例。需要依赖注入时使用 New 或 Module。
func Instance() *Gateway {
	return instance()
}
