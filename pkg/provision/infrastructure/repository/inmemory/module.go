// Package inmemory provides an in-memory implementation of the Repository
// interface. This module integrates the in-memory repository into the
// application's dependency graph using Fx.
package inmemory

import (
	"go.uber.org/fx"

	"accord/pkg/provision/core/domain/repository"
)

// Module is an Fx module that provides InMemoryRepository as a
// repository.Repository and InMemoryEntityStore as a repository.EntityStore.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewInMemoryRepository,
			fx.As(new(repository.Repository)),
		),
		fx.Annotate(
			NewInMemoryEntityStore,
			fx.As(new(repository.EntityStore)),
		),
	),
)
