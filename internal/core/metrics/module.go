package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Params 指标依赖参数
type Params struct {
	fx.In

	Registerer prometheus.Registerer `optional:"true"`
}

// Module 返回指标 Fx 模块
//
// 未提供 Registerer 时注入 nil *Metrics。
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(func(p Params) (*Metrics, error) {
			return New(p.Registerer)
		}),
	)
}
