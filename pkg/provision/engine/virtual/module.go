package virtual

import (
	"go.uber.org/fx"

	"accord/pkg/provision/engine/executor"
)

// Module is an Fx module providing the virtual request queue, also bound as
// the executor's delegation target.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewQueue,
			fx.As(new(executor.Delegator)),
			fx.As(fx.Self()),
		),
	),
)
