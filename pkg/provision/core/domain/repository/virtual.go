package repository

import (
	"context"
	"errors"

	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/support/util/exception"
)

// ErrVsRequestNotFound is returned when a VsRequest is not found.
var ErrVsRequestNotFound = errors.New("virtual system request not found")

// ErrVsAccountNotFound is returned when a VsAccount is not found.
var ErrVsAccountNotFound = errors.New("virtual system account not found")

func init() {
	exception.RegisterErrorType("ErrVsRequestNotFound", ErrVsRequestNotFound)
	exception.RegisterErrorType("ErrVsAccountNotFound", ErrVsAccountNotFound)
}

// VirtualSystem defines persistence for virtual-system requests and accounts.
type VirtualSystem interface {
	// SaveVsRequest persists a new request.
	SaveVsRequest(ctx context.Context, request *model.VsRequest) error

	// UpdateVsRequest updates a request. Terminal requests are immutable;
	// implementations reject updates to them.
	UpdateVsRequest(ctx context.Context, request *model.VsRequest) error

	// FindVsRequestByID finds a request by its ID.
	FindVsRequestByID(ctx context.Context, id string) (*model.VsRequest, error)

	// ListUnrealizedVsRequests lists a uid's IN_PROGRESS requests on a
	// system in creation order.
	ListUnrealizedVsRequests(ctx context.Context, systemID, uid string) ([]*model.VsRequest, error)

	// UpsertVsAccount saves or replaces the last-confirmed state of a
	// virtual account.
	UpsertVsAccount(ctx context.Context, account *model.VsAccount) error

	// FindVsAccount finds the virtual account for a uid on a system.
	FindVsAccount(ctx context.Context, systemID, uid string) (*model.VsAccount, error)

	// DeleteVsAccount removes the virtual account for a uid on a system.
	DeleteVsAccount(ctx context.Context, systemID, uid string) error
}
