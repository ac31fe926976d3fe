package repository

import (
	"context"
	"errors"

	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/support/util/exception"
)

// ErrSyncRunNotFound is returned when a SyncRun is not found.
var ErrSyncRunNotFound = errors.New("sync run not found")

func init() {
	exception.RegisterErrorType("ErrSyncRunNotFound", ErrSyncRunNotFound)
}

// SyncRun defines persistence for synchronization run records.
type SyncRun interface {
	// SaveSyncRun persists a new run record.
	SaveSyncRun(ctx context.Context, run *model.SyncRun) error

	// UpdateSyncRun updates the state of an existing run record.
	UpdateSyncRun(ctx context.Context, run *model.SyncRun) error

	// FindLatestSyncRun finds the newest run of a configuration.
	FindLatestSyncRun(ctx context.Context, configName string) (*model.SyncRun, error)
}
