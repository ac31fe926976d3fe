package batch

import "go.uber.org/fx"

// Module is an Fx module providing the batch manager.
var Module = fx.Options(
	fx.Provide(NewManager),
)
