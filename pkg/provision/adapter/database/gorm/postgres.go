package gorm

import (
	"fmt"

	"accord/pkg/provision/core/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func init() {
	RegisterDialector("postgres", func(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode)
		return postgres.Open(dsn), nil
	})
}
