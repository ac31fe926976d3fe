package model

import (
	"time"

	"github.com/google/uuid"
)

// VsRequestState represents the state of a virtual-system request.
type VsRequestState string

const (
	// VsRequestInProgress means the request awaits an implementer decision.
	VsRequestInProgress VsRequestState = "IN_PROGRESS"
	// VsRequestRealized means an implementer applied the request.
	VsRequestRealized VsRequestState = "REALIZED"
	// VsRequestCanceled means an implementer rejected the request.
	VsRequestCanceled VsRequestState = "CANCELED"
)

// String returns the string representation of the VsRequestState.
func (s VsRequestState) String() string {
	return string(s)
}

// IsTerminal reports whether the state ends the request's lifecycle. Terminal
// requests are archived and never mutated again.
func (s VsRequestState) IsTerminal() bool {
	return s == VsRequestRealized || s == VsRequestCanceled
}

// VsRequest is a queued desired change on a virtual system. The "connector"
// is a human implementer approving each change; the external effect happens
// when the request is realized.
type VsRequest struct {
	// ID is the request identifier.
	ID string
	// UID is the logical key of the virtual account the request targets.
	UID string
	// SystemID identifies the virtual system.
	SystemID string
	// ConnectorKey names the virtual connector configuration.
	ConnectorKey string
	// Type is the requested change kind.
	Type OperationType
	// State is the request's lifecycle state.
	State VsRequestState
	// TargetEntityID references the IdM entity the change is for.
	TargetEntityID string
	// Attributes is the proposed attribute payload.
	Attributes AttributeMap
	// Descriptors carries the comparison rules of the proposed attributes,
	// frozen from the originating operation for the wish diff.
	Descriptors DescriptorMap
	// Reason records why a request was canceled. Required on cancel.
	Reason string
	// Note is the optional implementer note recorded on realize.
	Note string
	// CreateTime orders requests for the same uid.
	CreateTime time.Time
	// ResolvedAt is when the request reached a terminal state.
	ResolvedAt *time.Time
}

// NewVsRequest creates an in-progress virtual-system request.
func NewVsRequest(uid, systemID, connectorKey, targetEntityID string, opType OperationType, attrs AttributeMap) *VsRequest {
	return &VsRequest{
		ID:             uuid.New().String(),
		UID:            uid,
		SystemID:       systemID,
		ConnectorKey:   connectorKey,
		Type:           opType,
		State:          VsRequestInProgress,
		TargetEntityID: targetEntityID,
		Attributes:     attrs.Clone(),
		CreateTime:     time.Now(),
	}
}

// VsAccount is the virtual system's own record of the last confirmed state
// per uid. It is the diff base for computing a request's wish.
type VsAccount struct {
	// UID is the logical key of the virtual account.
	UID string
	// SystemID identifies the virtual system.
	SystemID string
	// Attributes is the last confirmed attribute state.
	Attributes AttributeMap
	// LastUpdated is when the state last changed.
	LastUpdated time.Time
}

// DiffKind classifies one element or scalar in a wish diff.
type DiffKind string

const (
	DiffAdded     DiffKind = "ADDED"
	DiffRemoved   DiffKind = "REMOVED"
	DiffUnchanged DiffKind = "UNCHANGED"
	DiffChanged   DiffKind = "CHANGED"
)

// ValueDiff is the wish diff of one attribute.
type ValueDiff struct {
	// SchemaName is the attribute name.
	SchemaName string
	// Kind classifies a scalar attribute change; multi-valued attributes use
	// Elements instead.
	Kind DiffKind
	// Before is the current value (scalar attributes only).
	Before interface{}
	// After is the proposed value (scalar attributes only).
	After interface{}
	// Elements classifies each element of a multi-valued attribute, so
	// concurrently in-flight requests to the same logical account compose.
	Elements []ElementDiff
}

// ElementDiff classifies a single element of a multi-valued attribute.
type ElementDiff struct {
	// Value is the element value.
	Value interface{}
	// Kind is ADDED, REMOVED or UNCHANGED.
	Kind DiffKind
}

// Wish is the computed difference between the virtual account's confirmed
// state (plus queued unrealized requests) and one request's proposal.
type Wish struct {
	// RequestID is the request the wish was computed for.
	RequestID string
	// UID is the targeted virtual account.
	UID string
	// Attributes holds the per-attribute diffs, keyed by schema name.
	Attributes map[string]ValueDiff
}
