// Package connector defines the pluggable adapter boundary to target systems.
// The engine never speaks a target system's native protocol itself; every
// outbound read or write goes through a Connector implementation resolved
// from the registry by connector key.
package connector

import (
	"context"
	"errors"

	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/support/util/exception"
)

// Object is one object read from a target system.
type Object struct {
	// UID is the connector-assigned logical key.
	UID string
	// ObjectClass is the object's class on the target system.
	ObjectClass string
	// Attributes holds the object's attribute values.
	Attributes model.AttributeMap
}

// ResultHandler consumes streamed search results. Returning false stops the
// enumeration early.
type ResultHandler func(obj Object) bool

// Connector is the adapter speaking to one target system.
//
// All calls fail with an error chained to exception.ErrConnectorIO
// (transient, retryable) or exception.ErrConnectorRejected (permanent, not
// retried without a configuration change). Read returns
// (nil, ErrObjectNotFound) for a missing object.
type Connector interface {
	// Read fetches one object by uid. Returns ErrObjectNotFound when the
	// target system has no such object.
	Read(ctx context.Context, uid, objectClass string) (*Object, error)

	// Create creates an object and returns its connector-assigned uid.
	Create(ctx context.Context, objectClass string, attributes model.AttributeMap) (string, error)

	// Update replaces the given attributes on an object and returns its
	// (possibly renamed) uid.
	Update(ctx context.Context, uid, objectClass string, attributes model.AttributeMap) (string, error)

	// Delete removes an object.
	Delete(ctx context.Context, uid, objectClass string) error

	// Search enumerates objects of a class, invoking handler zero..N times
	// before terminating. filter is connector-specific and may be empty.
	Search(ctx context.Context, objectClass, filter string, handler ResultHandler) error
}

// ErrObjectNotFound is returned by Read when the target system holds no
// object with the requested uid. It is not a failure of the connector itself.
var ErrObjectNotFound = errors.New("connector object not found")

func init() {
	exception.RegisterErrorType("ErrObjectNotFound", ErrObjectNotFound)
}
