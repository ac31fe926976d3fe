package gorm

import "go.uber.org/fx"

// Module is an Fx module providing the GORM connection.
var Module = fx.Options(
	fx.Provide(Open),
)
