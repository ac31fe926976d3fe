package compare

import "go.uber.org/fx"

// Module is an Fx module providing the attribute comparator.
var Module = fx.Options(
	fx.Provide(NewComparator),
)
