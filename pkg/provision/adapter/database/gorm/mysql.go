package gorm

import (
	"fmt"

	"accord/pkg/provision/core/config"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func init() {
	RegisterDialector("mysql", func(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
		return mysql.Open(dsn), nil
	})
}
