package script

import "go.uber.org/fx"

// Module is an Fx module providing the function-backed script host as the
// Host interface. Applications register their scripts in an fx.Invoke.
var Module = fx.Options(
	fx.Provide(
		NewFuncHost,
		func(h *FuncHost) Host { return h },
	),
)
