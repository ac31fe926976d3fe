package gorm

import (
	"accord/pkg/provision/core/config"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	RegisterDialector("sqlite", func(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
		return sqlite.Open(cfg.Database), nil
	})
}
