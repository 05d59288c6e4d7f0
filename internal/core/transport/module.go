package transport

import (
	"go.uber.org/fx"

	"github.com/mpush/go-mpush/config"
)

// Module 返回传输选择的 Fx 模块
//
// 提供：
//   - Selection：由 gateway.transport 配置决定，整个应用内只决策一次
func Module() fx.Option {
	return fx.Module("transport",
		fx.Provide(newSelection),
	)
}

func newSelection(cfg *config.Config) Selection {
	sel := FromConfig(cfg)
	logger.Info("传输已选定", "kind", sel.Kind.String(),
		"factory", sel.Factory.Name(), "provider", sel.Provider.Name())
	return sel
}
