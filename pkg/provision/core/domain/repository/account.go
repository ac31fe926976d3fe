package repository

import (
	"context"
	"errors"

	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/support/util/exception"
)

// ErrAccountNotFound is returned when an Account is not found.
var ErrAccountNotFound = errors.New("account not found")

// ErrDuplicateAccount is returned when saving an Account would violate the
// (uid, system) or system-entity uniqueness constraint.
var ErrDuplicateAccount = errors.New("account already exists")

func init() {
	exception.RegisterErrorType("ErrAccountNotFound", ErrAccountNotFound)
	exception.RegisterErrorType("ErrDuplicateAccount", ErrDuplicateAccount)
}

// Account defines persistence operations for account records.
type Account interface {
	// SaveAccount persists a new Account, enforcing (uid, system) and
	// system-entity uniqueness.
	SaveAccount(ctx context.Context, account *model.Account) error

	// UpdateAccount updates the state of an existing Account.
	UpdateAccount(ctx context.Context, account *model.Account) error

	// DeleteAccount removes an Account row.
	DeleteAccount(ctx context.Context, id string) error

	// FindAccountByID finds an Account by its ID.
	FindAccountByID(ctx context.Context, id string) (*model.Account, error)

	// FindAccountByUID finds the Account holding a uid on a system.
	FindAccountByUID(ctx context.Context, systemID, uid string) (*model.Account, error)

	// FindAccountByEntity finds the entity's Account on a system.
	FindAccountByEntity(ctx context.Context, systemID, entityID string) (*model.Account, error)

	// ListAccountsBySystem lists all Accounts on a system.
	ListAccountsBySystem(ctx context.Context, systemID string) ([]*model.Account, error)
}
