package config

import (
	"go.uber.org/fx"

	model "accord/pkg/provision/core/domain/model"
)

// Module is an Fx module exposing the per-section configuration values so
// components can depend on just the slice of configuration they use.
var Module = fx.Options(
	fx.Provide(
		func(cfg *Config) *ProvisioningConfig { return &cfg.Accord.Provisioning },
		func(cfg *Config) *DatabaseConfig { return &cfg.Accord.Database },
		func(cfg *Config) *VirtualConfig { return &cfg.Accord.Virtual },
		func(cfg *Config) *ExportConfig { return &cfg.Accord.Export },
		func(cfg *Config) []SyncConfig { return cfg.Accord.Sync },
		func(cfg *Config) []model.SystemMapping { return cfg.Accord.Mappings },
	),
)
