// Package sql is the GORM-backed implementation of the engine's repository.
// The claim/release primitives run inside database transactions so the
// per-batch serialization invariant holds across processes.
package sql

import (
	"accord/pkg/provision/core/domain/repository"
	"accord/pkg/provision/support/util/logger"

	"gorm.io/gorm"
)

// SQLRepository implements repository.Repository on a GORM connection.
type SQLRepository struct {
	db *gorm.DB
}

// NewSQLRepository creates a SQL-backed repository.
func NewSQLRepository(db *gorm.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// Close implements repository.Repository.
func (r *SQLRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		logger.Errorf("Failed to close database connection: %v", err)
		return err
	}
	return nil
}

var _ repository.Repository = (*SQLRepository)(nil)
