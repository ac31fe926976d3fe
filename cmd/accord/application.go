package main

import (
	"context"
	"strings"
	"time"

	"go.uber.org/fx"

	"accord/pkg/provision/component/export"
	"accord/pkg/provision/connector"
	"accord/pkg/provision/core/config"
	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/core/domain/repository"
	"accord/pkg/provision/engine/attribute"
	"accord/pkg/provision/engine/batch"
	"accord/pkg/provision/engine/compare"
	"accord/pkg/provision/engine/executor"
	"accord/pkg/provision/engine/lifecycle"
	"accord/pkg/provision/engine/operator"
	"accord/pkg/provision/engine/syncer"
	"accord/pkg/provision/engine/virtual"
	"accord/pkg/provision/engine/worker"
	"accord/pkg/provision/infrastructure/metrics"
	"accord/pkg/provision/infrastructure/repository/inmemory"
	sqlrepo "accord/pkg/provision/infrastructure/repository/sql"
	"accord/pkg/provision/script"
	"accord/pkg/provision/support/util/logger"
)

// runApplication sets up and runs the provisioning engine using uber-fx.
func runApplication(appCtx context.Context, envFilePath string, embedded []byte) {
	cfg, err := config.LoadConfig(envFilePath, config.EmbeddedConfig(embedded))
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level based on loaded configuration
	logger.SetLogLevel(cfg.Accord.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Accord.System.Logging.Level)

	app := fx.New(
		fx.Supply(
			cfg,
			fx.Annotate(
				appCtx,
				fx.As(new(context.Context)),
				fx.ResultTags(`name:"appCtx"`),
			),
		),

		logger.Module,
		config.Module,
		metrics.Module,

		// Persistence: gorm-backed repository plus the embedded entity
		// subsystem stand-in.
		sqlrepo.Module,
		fx.Provide(fx.Annotate(
			inmemory.NewInMemoryEntityStore,
			fx.As(new(repository.EntityStore)),
		)),

		connector.Module,
		script.Module,
		compare.Module,
		attribute.Module,
		lifecycle.Module,
		batch.Module,
		virtual.Module,
		executor.Module,
		worker.Module,
		syncer.Module,
		operator.Module,
		export.Module,

		fx.Invoke(registerDefaultScripts),
		fx.Invoke(registerConnectors),
		fx.Invoke(fx.Annotate(startSynchronization, fx.ParamTags(
			"",              // lc fx.Lifecycle
			"",              // reconciler *syncer.Reconciler
			"",              // cfg *config.Config
			`name:"appCtx"`, // appCtx context.Context
		))),
		fx.Invoke(exportOnShutdown),
	)

	app.Run()

	if err := app.Err(); err != nil {
		logger.Fatalf("Application run failed: %v", err)
	}
}

// registerDefaultScripts binds the stock eligibility and transformation
// scripts mappings may reference by name.
func registerDefaultScripts(host *script.FuncHost) {
	host.RegisterBool("alwaysEligible", func(ctx context.Context, entity *model.Entity, scriptCtx model.AttributeMap) (bool, error) {
		return true, nil
	})
	host.RegisterBool("activeEntity", func(ctx context.Context, entity *model.Entity, scriptCtx model.AttributeMap) (bool, error) {
		return !entity.Disabled, nil
	})
	host.RegisterTransform("toLowerCase", func(ctx context.Context, value interface{}, entity *model.Entity, scriptCtx model.AttributeMap) (interface{}, error) {
		if s, ok := value.(string); ok {
			return strings.ToLower(s), nil
		}
		return value, nil
	})
	host.RegisterTransform("toUpperCase", func(ctx context.Context, value interface{}, entity *model.Entity, scriptCtx model.AttributeMap) (interface{}, error) {
		if s, ok := value.(string); ok {
			return strings.ToUpper(s), nil
		}
		return value, nil
	})
}

// registerConnectors binds an in-process connector for every connector key
// the configured mappings reference. Deployments with real target systems
// replace these registrations with their own connector implementations.
func registerConnectors(registry *connector.Registry, mappings []model.SystemMapping) error {
	seen := make(map[string]bool)
	for _, m := range mappings {
		if m.Virtual || m.ConnectorKey == "" || seen[m.ConnectorKey] {
			continue
		}
		c, err := connector.NewMemoryConnectorFromSettings(m.ConnectorSettings)
		if err != nil {
			return err
		}
		registry.Register(m.ConnectorKey, c)
		seen[m.ConnectorKey] = true
		logger.Infof("Registered in-process connector for key '%s' (system '%s')", m.ConnectorKey, m.SystemID)
	}
	return nil
}

// startSynchronization schedules the configured synchronization runs. A
// configuration with an interval re-runs periodically; one without runs once
// at startup.
func startSynchronization(lc fx.Lifecycle, reconciler *syncer.Reconciler, cfg *config.Config, appCtx context.Context) {
	runCtx, cancel := context.WithCancel(appCtx)

	runOne := func(sc config.SyncConfig) {
		summary, err := reconciler.Run(runCtx, sc)
		if err != nil {
			logger.Errorf("Synchronization '%s' failed: %v", sc.Name, err)
			return
		}
		logger.Infof("Synchronization '%s' finished: %d scanned, %d change(s), %d error(s)",
			sc.Name, summary.Scanned, summary.ChangeCount(), len(summary.Errors))
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			for _, sc := range cfg.Accord.Sync {
				sc := sc
				go func() {
					runOne(sc)
					if sc.IntervalSeconds <= 0 {
						return
					}
					ticker := time.NewTicker(sc.Interval())
					defer ticker.Stop()
					for {
						select {
						case <-runCtx.Done():
							return
						case <-ticker.C:
							runOne(sc)
						}
					}
				}()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
}

// exportOnShutdown writes each configured system's archive records to
// Parquet when the application stops.
func exportOnShutdown(lc fx.Lifecycle, exporter *export.Exporter, cfg *config.Config) {
	if !cfg.Accord.Export.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			seen := make(map[string]bool)
			for _, m := range cfg.Accord.Mappings {
				if seen[m.SystemID] {
					continue
				}
				seen[m.SystemID] = true
				if _, err := exporter.ExportSystem(ctx, m.SystemID); err != nil {
					logger.Errorf("Archive export for system '%s' failed: %v", m.SystemID, err)
				}
			}
			return nil
		},
	})
}
