package export

import (
	"go.uber.org/fx"
)

// Module is an Fx module that provides the Parquet archive exporter.
var Module = fx.Options(
	fx.Provide(NewExporter),
)
