package attribute

import "go.uber.org/fx"

// Module is an Fx module providing the attribute resolver.
var Module = fx.Options(
	fx.Provide(NewResolver),
)
