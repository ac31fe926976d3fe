package operator

import "go.uber.org/fx"

// Module is an Fx module providing the operator service.
var Module = fx.Options(
	fx.Provide(NewService),
)
