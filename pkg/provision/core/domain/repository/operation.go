package repository

import (
	"context"
	"errors"
	"time"

	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/support/util/exception"
)

// ErrOperationNotFound is returned when a ProvisioningOperation is not found.
var ErrOperationNotFound = errors.New("provisioning operation not found")

// ErrBatchNotFound is returned when a ProvisioningBatch is not found.
var ErrBatchNotFound = errors.New("provisioning batch not found")

// ErrArchiveNotFound is returned when a ProvisioningArchive is not found.
var ErrArchiveNotFound = errors.New("provisioning archive not found")

func init() {
	exception.RegisterErrorType("ErrOperationNotFound", ErrOperationNotFound)
	exception.RegisterErrorType("ErrBatchNotFound", ErrBatchNotFound)
	exception.RegisterErrorType("ErrArchiveNotFound", ErrArchiveNotFound)
}

// Operation defines persistence for provisioning operations, their batches
// and the terminal archive.
//
// The claim/release pair is the engine's central serialization primitive: the
// executing marker on a batch and the claimed operation's state change in one
// atomic step, both on claim and on release.
type Operation interface {
	// EnqueueOperation persists a new operation and creates or reuses the
	// batch for its (system, system entity) pair, atomically.
	EnqueueOperation(ctx context.Context, op *model.ProvisioningOperation) error

	// UpdateOperation updates the state of an existing operation.
	UpdateOperation(ctx context.Context, op *model.ProvisioningOperation) error

	// FindOperationByID finds an active operation by its ID.
	FindOperationByID(ctx context.Context, id string) (*model.ProvisioningOperation, error)

	// ListOperationsByBatch lists a batch's active operations in creation
	// order.
	ListOperationsByBatch(ctx context.Context, batchID string) ([]*model.ProvisioningOperation, error)

	// ListOperationsByAccount lists an account's active operations in
	// creation order.
	ListOperationsByAccount(ctx context.Context, accountID string) ([]*model.ProvisioningOperation, error)

	// ClaimNextRunnable atomically picks the oldest CREATED operation of a
	// batch that has no executing operation and whose NextAttempt is not in
	// the future, marks the batch executing and the operation RUNNING, and
	// returns it. Returns (nil, nil) when nothing is runnable at now.
	ClaimNextRunnable(ctx context.Context, now time.Time) (*model.ProvisioningOperation, error)

	// ReleaseOperation atomically clears the batch's executing marker,
	// applies the operation's new state, and sets the batch's NextAttempt
	// for backoff scheduling (zero means immediately runnable).
	ReleaseOperation(ctx context.Context, op *model.ProvisioningOperation, nextAttempt time.Time) error

	// RemoveOperation deletes a terminated operation from the active table.
	RemoveOperation(ctx context.Context, id string) error

	// ArchiveOperation settles a claimed operation atomically: the batch's
	// executing marker clears, the archive record derived from op is
	// appended, and the active row is removed, all in one step.
	ArchiveOperation(ctx context.Context, op *model.ProvisioningOperation) error

	// CancelQueuedOperation archives op and removes its active row only
	// while the row is still CREATED, atomically. Returns false without
	// archiving when a worker claimed the operation in the meantime.
	CancelQueuedOperation(ctx context.Context, op *model.ProvisioningOperation) (bool, error)

	// FindBatch finds the batch of a (system, system entity) pair.
	FindBatch(ctx context.Context, systemID, systemEntityID string) (*model.ProvisioningBatch, error)

	// SaveArchive appends an immutable archive record.
	SaveArchive(ctx context.Context, archive *model.ProvisioningArchive) error

	// FindArchiveByOperationID finds the archive record of an operation.
	FindArchiveByOperationID(ctx context.Context, operationID string) (*model.ProvisioningArchive, error)

	// ListArchivesBySystem lists a system's archive records, newest first.
	ListArchivesBySystem(ctx context.Context, systemID string) ([]*model.ProvisioningArchive, error)
}
