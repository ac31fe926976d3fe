package syncer

import "go.uber.org/fx"

// Module is an Fx module providing the synchronization reconciler.
var Module = fx.Options(
	fx.Provide(NewReconciler),
)
