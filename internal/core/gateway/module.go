package gateway

import (
	"context"

	"go.uber.org/fx"

	"github.com/mpush/go-mpush/config"
	"github.com/mpush/go-mpush/internal/core/handler"
	"github.com/mpush/go-mpush/internal/core/metrics"
	"github.com/mpush/go-mpush/internal/core/transport"
)

// Params 网关依赖参数
type Params struct {
	fx.In

	Config    *config.Config
	Selection transport.Selection
	Metrics   *metrics.Metrics `optional:"true"`
	Pusher    handler.Pusher   `optional:"true"`
}

// Module 返回网关 Fx 模块
//
// 提供：
//   - *Gateway：OnStart 时 Init + Start，OnStop 时按序 Stop
func Module() fx.Option {
	return fx.Module("gateway",
		fx.Provide(NewFromParams),
		fx.Invoke(registerLifecycle),
	)
}

// NewFromParams 从 Fx 参数创建网关
func NewFromParams(p Params) *Gateway {
	return New(p.Config,
		WithSelection(p.Selection),
		WithMetrics(p.Metrics),
		WithPusher(p.Pusher),
	)
}

func registerLifecycle(lc fx.Lifecycle, g *Gateway) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return g.Start(ctx, nil)
		},
		OnStop: func(_ context.Context) error {
			return g.Stop(nil)
		},
	})
}
