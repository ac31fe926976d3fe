// Package connector wiring for Fx.
package connector

import "go.uber.org/fx"

// Module is an Fx module providing an empty connector registry. Applications
// register their connectors against it in an fx.Invoke at startup.
var Module = fx.Options(
	fx.Provide(NewRegistry),
)
