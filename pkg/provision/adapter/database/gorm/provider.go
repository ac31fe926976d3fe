// Package gorm adapts the engine's database configuration to a GORM
// connection. Drivers register a dialector factory per database type.
package gorm

import (
	"fmt"
	"sync"

	"accord/pkg/provision/core/config"
	"accord/pkg/provision/support/util/logger"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DialectorFactory builds a gorm.Dialector from the database configuration.
type DialectorFactory func(cfg *config.DatabaseConfig) (gorm.Dialector, error)

var (
	dialectorMutex    sync.RWMutex
	dialectorRegistry = make(map[string]DialectorFactory)
)

// RegisterDialector registers a DialectorFactory for a database type.
func RegisterDialector(dbType string, factory DialectorFactory) {
	dialectorMutex.Lock()
	defer dialectorMutex.Unlock()
	if _, exists := dialectorRegistry[dbType]; exists {
		logger.Warnf("Dialector for type '%s' already registered. Overwriting.", dbType)
	}
	dialectorRegistry[dbType] = factory
}

// Open establishes the GORM connection selected by the configuration.
func Open(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dialectorMutex.RLock()
	factory, ok := dialectorRegistry[cfg.Type]
	dialectorMutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no dialector registered for database type: %s", cfg.Type)
	}
	dialector, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialector for %s: %w", cfg.Type, err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection: %w", err)
	}
	logger.Infof("Established DB connection (%s)", cfg.Type)
	return db, nil
}
