// Package sql provides a gorm-backed implementation of the Repository
// interface. This module integrates the SQL repository into the
// application's dependency graph using Fx and runs schema migrations on
// startup.
package sql

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"accord/pkg/provision/core/config"
	"accord/pkg/provision/core/domain/repository"

	gormadapter "accord/pkg/provision/adapter/database/gorm"
)

// Module is an Fx module that provides SQLRepository as a
// repository.Repository backed by the configured database.
var Module = fx.Options(
	gormadapter.Module,
	fx.Provide(
		fx.Annotate(
			NewSQLRepository,
			fx.As(new(repository.Repository)),
		),
	),
	fx.Invoke(func(db *gorm.DB, cfg *config.DatabaseConfig) error {
		return Migrate(db, cfg.Type)
	}),
)
