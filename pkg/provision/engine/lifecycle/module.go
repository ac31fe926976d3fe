package lifecycle

import "go.uber.org/fx"

// Module is an Fx module providing the lifecycle manager with the default
// auto-approving approval hook.
var Module = fx.Options(
	fx.Provide(
		func() Approver { return AutoApprover{} },
		NewManager,
	),
)
