package executor

import "go.uber.org/fx"

// Module is an Fx module providing the default executor and the per-entity
// type registry.
var Module = fx.Options(
	fx.Provide(
		NewDefaultExecutor,
		NewRegistry,
	),
)
