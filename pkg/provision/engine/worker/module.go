package worker

import (
	"context"

	"go.uber.org/fx"
)

// Module is an Fx module providing the worker pool and tying it to the
// application lifecycle.
var Module = fx.Options(
	fx.Provide(NewPool),
	fx.Invoke(func(lc fx.Lifecycle, pool *Pool) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				pool.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				pool.Stop()
				return nil
			},
		})
	}),
)
