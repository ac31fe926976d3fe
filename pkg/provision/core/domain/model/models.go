// Package model defines the domain objects of the Accord provisioning engine:
// accounts, system entities, attribute mappings, provisioning operations and
// their batches, plus the virtual-system and synchronization records.
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// OperationType identifies the kind of outbound change an operation carries.
type OperationType string

const (
	OperationCreate OperationType = "CREATE"
	OperationUpdate OperationType = "UPDATE"
	OperationDelete OperationType = "DELETE"
)

// String returns the string representation of the OperationType.
func (t OperationType) String() string {
	return string(t)
}

// OperationState represents the state of a provisioning operation.
type OperationState string

const (
	// StateCreated means the operation is queued and has not run yet.
	StateCreated OperationState = "CREATED"
	// StateRunning means a worker currently holds the operation.
	StateRunning OperationState = "RUNNING"
	// StateExecuted means the connector call succeeded.
	StateExecuted OperationState = "EXECUTED"
	// StateException means the operation failed fatally (attempts exhausted
	// or a non-retryable error) and awaits operator recovery.
	StateException OperationState = "EXCEPTION"
	// StateCanceled means the operation was canceled before it started.
	StateCanceled OperationState = "CANCELED"
	// StateDelegated means the change was handed to a virtual system queue;
	// the external effect happens later via realize.
	StateDelegated OperationState = "DELEGATED"
)

// String returns the string representation of the OperationState.
func (s OperationState) String() string {
	return string(s)
}

// IsTerminal reports whether the state ends the operation's active lifecycle.
func (s OperationState) IsTerminal() bool {
	switch s {
	case StateExecuted, StateException, StateCanceled, StateDelegated:
		return true
	default:
		return false
	}
}

// AttributeMap is the generic attribute payload exchanged with connectors.
// Values are scalars or []interface{} for multi-valued attributes.
type AttributeMap map[string]interface{}

// Value implements driver.Valuer, storing the map as a JSON string.
func (m AttributeMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner, reading the map back from JSON.
func (m *AttributeMap) Scan(value interface{}) error {
	if value == nil {
		*m = make(AttributeMap)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for AttributeMap: %T", value)
	}
	if len(b) == 0 {
		*m = make(AttributeMap)
		return nil
	}
	if err := json.Unmarshal(b, m); err != nil {
		return fmt.Errorf("failed to unmarshal AttributeMap JSON: %w", err)
	}
	return nil
}

// Clone returns a shallow copy of the map (slice values are copied one level
// deep, which is enough for attribute payloads).
func (m AttributeMap) Clone() AttributeMap {
	if m == nil {
		return nil
	}
	out := make(AttributeMap, len(m))
	for k, v := range m {
		if s, ok := v.([]interface{}); ok {
			cp := make([]interface{}, len(s))
			copy(cp, s)
			out[k] = cp
			continue
		}
		out[k] = v
	}
	return out
}

// Entity is the IdM-side identity (or other provisionable object) the engine
// provisions outward. It is a plain value struct; persistence of entities is a
// collaborator concern.
type Entity struct {
	// ID is the IdM identifier of the entity.
	ID string
	// Type tags the entity kind (e.g. "identity", "role").
	Type string
	// Disabled marks an entity that should not hold active accounts.
	Disabled bool
	// Properties holds the entity's IdM-side attribute values.
	Properties AttributeMap
}

// Property returns the named property value and whether it is present.
func (e *Entity) Property(name string) (interface{}, bool) {
	if e.Properties == nil {
		return nil, false
	}
	v, ok := e.Properties[name]
	return v, ok
}

// Account represents an IdM-owned identity on one target system.
// (UID, SystemID) is unique; SystemEntityID is unique when set.
type Account struct {
	// ID is the unique identifier of the account record.
	ID string
	// UID is the connector-assigned logical key on the target system.
	UID string
	// SystemID identifies the target system.
	SystemID string
	// EntityType tags the kind of IdM entity that owns the account.
	EntityType string
	// EntityID is the owning IdM entity.
	EntityID string
	// SystemEntityID references the target-system-side placeholder row.
	SystemEntityID string
	// MappingID is the system mapping the account was provisioned under.
	MappingID string
	// InProtection marks an account inside its delete-protection window.
	InProtection bool
	// EndOfProtection is when the protection window elapses; nil when the
	// account is not protected.
	EndOfProtection *time.Time
	// CreateTime is when the account row was created.
	CreateTime time.Time
	// LastUpdated is when the account row last changed.
	LastUpdated time.Time
}

// NewAccount creates an active account for the given entity on a system.
func NewAccount(uid, systemID, entityType, entityID, systemEntityID, mappingID string) *Account {
	now := time.Now()
	return &Account{
		ID:             uuid.New().String(),
		UID:            uid,
		SystemID:       systemID,
		EntityType:     entityType,
		EntityID:       entityID,
		SystemEntityID: systemEntityID,
		MappingID:      mappingID,
		CreateTime:     now,
		LastUpdated:    now,
	}
}

// Protect moves the account into its delete-protection window.
func (a *Account) Protect(until time.Time) {
	a.InProtection = true
	a.EndOfProtection = &until
	a.LastUpdated = time.Now()
}

// Unprotect clears the protection window, returning the account to active.
func (a *Account) Unprotect() {
	a.InProtection = false
	a.EndOfProtection = nil
	a.LastUpdated = time.Now()
}

// ProtectionExpired reports whether the protection window has elapsed at the
// given instant. An unprotected account never reports true.
func (a *Account) ProtectionExpired(now time.Time) bool {
	return a.InProtection && a.EndOfProtection != nil && !now.Before(*a.EndOfProtection)
}

// SystemEntity is the target-system-side identity placeholder, independent of
// whether an Account/IdM-entity link exists. (EntityType, UID, SystemID) is
// unique. Wish=true means "desired, not yet confirmed to exist on the target".
type SystemEntity struct {
	// ID is the unique identifier of the system entity row.
	ID string
	// UID is the connector-assigned logical key.
	UID string
	// EntityType tags the kind of object on the target system.
	EntityType string
	// SystemID identifies the target system.
	SystemID string
	// Wish marks an entity that is desired but not yet confirmed created.
	Wish bool
	// CreateTime is when the row was created.
	CreateTime time.Time
}

// NewSystemEntity creates a wished (not yet confirmed) system entity.
func NewSystemEntity(uid, entityType, systemID string) *SystemEntity {
	return &SystemEntity{
		ID:         uuid.New().String(),
		UID:        uid,
		EntityType: entityType,
		SystemID:   systemID,
		Wish:       true,
		CreateTime: time.Now(),
	}
}

// OverloadStrategy controls how a role overload combines with the default
// mapping attribute it targets.
type OverloadStrategy string

const (
	// StrategySet replaces the default attribute's value outright.
	StrategySet OverloadStrategy = "SET"
	// StrategyMerge unions the overload value with the default value.
	StrategyMerge OverloadStrategy = "MERGE"
)

// AttributeDescriptor describes one schema attribute on a target system and
// fixes its comparison rules.
type AttributeDescriptor struct {
	// SchemaName is the connector-side attribute name.
	SchemaName string `yaml:"schema_name" json:"schema_name"`
	// Multivalued marks an attribute holding a collection of values.
	Multivalued bool `yaml:"multivalued" json:"multivalued,omitempty"`
	// Ordered opts a multi-valued attribute into ordered-list comparison
	// instead of the default set comparison.
	Ordered bool `yaml:"ordered" json:"ordered,omitempty"`
	// CaseInsensitive compares string values ignoring case.
	CaseInsensitive bool `yaml:"case_insensitive" json:"case_insensitive,omitempty"`
	// TrimWhitespace trims surrounding whitespace before string comparison.
	TrimWhitespace bool `yaml:"trim_whitespace" json:"trim_whitespace,omitempty"`
}

// DescriptorMap indexes attribute descriptors by schema name. It travels with
// frozen payloads so change detection after the fact applies the same
// comparison rules the mapping configured.
type DescriptorMap map[string]AttributeDescriptor

// For returns the descriptor of the named attribute. Attributes outside the
// map (connector-side extras, stacked virtual-request keys) fall back to rules
// derived from the value's shape.
func (m DescriptorMap) For(name string, value interface{}) AttributeDescriptor {
	if d, ok := m[name]; ok {
		return d
	}
	return AttributeDescriptor{SchemaName: name, Multivalued: valueIsMultivalued(value)}
}

// Clone returns a copy of the map.
func (m DescriptorMap) Clone() DescriptorMap {
	if m == nil {
		return nil
	}
	out := make(DescriptorMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Value implements driver.Valuer, storing the map as a JSON string.
func (m DescriptorMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner, reading the map back from JSON.
func (m *DescriptorMap) Scan(value interface{}) error {
	if value == nil {
		*m = make(DescriptorMap)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for DescriptorMap: %T", value)
	}
	if len(b) == 0 {
		*m = make(DescriptorMap)
		return nil
	}
	if err := json.Unmarshal(b, m); err != nil {
		return fmt.Errorf("failed to unmarshal DescriptorMap JSON: %w", err)
	}
	return nil
}

func valueIsMultivalued(v interface{}) bool {
	switch v.(type) {
	case []interface{}, []string:
		return true
	default:
		return false
	}
}

// MappedAttribute is one entry of a system mapping: how an IdM property maps
// to a connector schema attribute.
type MappedAttribute struct {
	// ID orders attributes deterministically when priorities tie.
	ID int `yaml:"id"`
	// Descriptor carries the schema attribute and its comparison rules.
	Descriptor AttributeDescriptor `yaml:"descriptor"`
	// IdmProperty names the entity property the value is read from.
	IdmProperty string `yaml:"idm_property"`
	// Transformation names a registered transformation script applied to the
	// IdM value before provisioning. Empty means pass-through.
	Transformation string `yaml:"transformation"`
	// Strategy controls how an overload combines with the default attribute.
	Strategy OverloadStrategy `yaml:"strategy"`
	// IsUID marks the attribute carrying the connector-assigned logical key.
	// Exactly one attribute of a resolved mapping must set it.
	IsUID bool `yaml:"is_uid"`
	// IsEntityAttribute marks values read from the entity rather than
	// injected mapping context.
	IsEntityAttribute bool `yaml:"is_entity_attribute"`
}

// RoleOverload is a role-scoped mapping overload applied on top of a system's
// default mapping.
type RoleOverload struct {
	// RoleID identifies the role composition supplying the overload.
	RoleID string `yaml:"role_id"`
	// Priority orders overloads; lower values apply first.
	Priority int `yaml:"priority"`
	// Attribute is the overloading attribute definition, matched to a
	// default attribute by schema name.
	Attribute MappedAttribute `yaml:"attribute"`
}

// SystemMapping is the provisioning mapping of one (system, entity type) pair.
type SystemMapping struct {
	// ID is the mapping identifier.
	ID string `yaml:"id"`
	// SystemID identifies the target system.
	SystemID string `yaml:"system_id"`
	// EntityType tags the kind of IdM entity the mapping provisions.
	EntityType string `yaml:"entity_type"`
	// ObjectClass is the connector object class provisioned to.
	ObjectClass string `yaml:"object_class"`
	// ConnectorKey selects the connector implementation in the registry.
	ConnectorKey string `yaml:"connector_key"`
	// ConnectorSettings carries loosely typed connector configuration; each
	// connector implementation binds the subset it understands.
	ConnectorSettings map[string]string `yaml:"connector_settings"`
	// Virtual marks a system with no live connector; changes queue as
	// virtual-system requests instead.
	Virtual bool `yaml:"virtual"`
	// Attributes is the default ordered attribute mapping.
	Attributes []MappedAttribute `yaml:"attributes"`
	// EligibilityScript names the registered script deciding whether an
	// entity qualifies for an account ("canBeAccountCreated").
	EligibilityScript string `yaml:"eligibility_script"`
	// CorrelationAttribute names the connector attribute used to correlate
	// unlinked connector objects to IdM entities during synchronization.
	CorrelationAttribute string `yaml:"correlation_attribute"`
	// ProtectionEnabled turns on the delete-protection window.
	ProtectionEnabled bool `yaml:"protection_enabled"`
	// ProtectionInterval is the length of the delete-protection window.
	ProtectionInterval time.Duration `yaml:"protection_interval"`
	// ContextPrecedence orders mapping-context sources applied during
	// attribute resolution; later sources win. Empty uses the engine default.
	ContextPrecedence []string `yaml:"context_precedence"`
}

// UnmarshalYAML decodes the mapping, accepting protection_interval as a Go
// duration string (e.g. "720h").
func (m *SystemMapping) UnmarshalYAML(value *yaml.Node) error {
	type plain SystemMapping
	// yaml.v3 cannot shadow a field of an inlined struct, so the
	// protection_interval entry is split off the node and parsed separately.
	var interval string
	rest := *value
	rest.Content = nil
	for i := 0; i+1 < len(value.Content); i += 2 {
		if value.Content[i].Value == "protection_interval" {
			interval = value.Content[i+1].Value
			continue
		}
		rest.Content = append(rest.Content, value.Content[i], value.Content[i+1])
	}
	if err := rest.Decode((*plain)(m)); err != nil {
		return err
	}
	if interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("invalid protection_interval %q: %w", interval, err)
		}
		m.ProtectionInterval = d
	}
	return nil
}

// DescriptorIndex indexes the default mapping's descriptors by schema name.
func (m *SystemMapping) DescriptorIndex() DescriptorMap {
	out := make(DescriptorMap, len(m.Attributes))
	for _, attr := range m.Attributes {
		out[attr.Descriptor.SchemaName] = attr.Descriptor
	}
	return out
}

// UIDAttribute returns the default mapping's UID attribute, if present.
func (m *SystemMapping) UIDAttribute() (MappedAttribute, bool) {
	for _, attr := range m.Attributes {
		if attr.IsUID {
			return attr, true
		}
	}
	return MappedAttribute{}, false
}

// OperationResult is the outcome of the latest attempt of an operation.
type OperationResult struct {
	// State is the operation state produced by the attempt.
	State OperationState `json:"state"`
	// ErrorInfo is the failure description, empty on success.
	ErrorInfo string `json:"error_info,omitempty"`
}

// Value implements driver.Valuer, storing the result as JSON.
func (r OperationResult) Value() (driver.Value, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (r *OperationResult) Scan(value interface{}) error {
	if value == nil {
		*r = OperationResult{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for OperationResult: %T", value)
	}
	if len(b) == 0 {
		*r = OperationResult{}
		return nil
	}
	return json.Unmarshal(b, r)
}

// ProvisioningContext is the resolved attribute payload frozen into an
// operation when it is created. Recovery re-runs the operation from this
// context without recomputing attributes, so an unrelated later change is
// never masked by a retry.
type ProvisioningContext struct {
	// Attributes is the resolved connector attribute payload.
	Attributes AttributeMap `json:"attributes"`
	// Descriptors carries the comparison rules of the resolved attributes, so
	// change detection against the frozen payload honors the mapping's
	// configured semantics.
	Descriptors DescriptorMap `json:"descriptors,omitempty"`
	// UID is the resolved connector logical key.
	UID string `json:"uid"`
	// ObjectClass is the connector object class.
	ObjectClass string `json:"object_class"`
	// ConnectorKey selects the connector implementation.
	ConnectorKey string `json:"connector_key"`
	// Virtual marks the target as a virtual system.
	Virtual bool `json:"virtual"`
	// CancelProtection permits a DELETE against a protected account. Used by
	// the first provisioning pass that moves a pre-existing account into
	// protected archive state.
	CancelProtection bool `json:"cancel_protection,omitempty"`
}

// Value implements driver.Valuer, storing the context as JSON.
func (c ProvisioningContext) Value() (driver.Value, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (c *ProvisioningContext) Scan(value interface{}) error {
	if value == nil {
		*c = ProvisioningContext{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for ProvisioningContext: %T", value)
	}
	if len(b) == 0 {
		*c = ProvisioningContext{}
		return nil
	}
	return json.Unmarshal(b, c)
}

// ProvisioningOperation is one in-flight unit of outbound work. It lives in
// the active table until a terminal state converts it into an archive record.
type ProvisioningOperation struct {
	// ID is the operation identifier.
	ID string
	// Type is the kind of change (CREATE, UPDATE, DELETE).
	Type OperationType
	// SystemID identifies the target system.
	SystemID string
	// EntityType tags the owning entity kind.
	EntityType string
	// EntityID is the owning IdM entity.
	EntityID string
	// SystemEntityID references the target-system placeholder row.
	SystemEntityID string
	// AccountID references the account, when one exists.
	AccountID string
	// BatchID is the serialization batch the operation belongs to.
	BatchID string
	// Context is the frozen resolved attribute payload.
	Context ProvisioningContext
	// CurrentAttempt counts executed attempts, starting at 0.
	CurrentAttempt int
	// MaxAttempts bounds retries before the operation turns fatal.
	MaxAttempts int
	// Result is the outcome of the latest attempt.
	Result OperationResult
	// CreateTime orders operations within a batch.
	CreateTime time.Time
	// Version is the optimistic lock counter.
	Version int
}

// NewProvisioningOperation creates a queued operation for the given target.
func NewProvisioningOperation(
	opType OperationType,
	systemID, entityType, entityID, systemEntityID, accountID string,
	provCtx ProvisioningContext,
	maxAttempts int,
) *ProvisioningOperation {
	return &ProvisioningOperation{
		ID:             uuid.New().String(),
		Type:           opType,
		SystemID:       systemID,
		EntityType:     entityType,
		EntityID:       entityID,
		SystemEntityID: systemEntityID,
		AccountID:      accountID,
		Context:        provCtx,
		MaxAttempts:    maxAttempts,
		Result:         OperationResult{State: StateCreated},
		CreateTime:     time.Now(),
	}
}

// AttemptsExhausted reports whether the operation has used up its attempts.
func (o *ProvisioningOperation) AttemptsExhausted() bool {
	return o.CurrentAttempt >= o.MaxAttempts
}

// ProvisioningBatch owns the serialization of operations for one
// (system, system entity) pair. At most one operation of a batch may be
// executing at any instant; operations execute strictly in creation order.
type ProvisioningBatch struct {
	// ID is the batch identifier.
	ID string
	// SystemID identifies the target system.
	SystemID string
	// SystemEntityID is the serialized account/system-entity pair.
	SystemEntityID string
	// NextAttempt delays the batch for retry backoff; zero means runnable.
	NextAttempt time.Time
	// ExecutingOperationID marks the operation currently held by a worker;
	// empty when the batch is idle. Set and cleared atomically with the
	// operation state by the repository.
	ExecutingOperationID string
	// Version is the optimistic lock counter.
	Version int
}

// NewProvisioningBatch creates an idle batch for a (system, system entity)
// pair.
func NewProvisioningBatch(systemID, systemEntityID string) *ProvisioningBatch {
	return &ProvisioningBatch{
		ID:             uuid.New().String(),
		SystemID:       systemID,
		SystemEntityID: systemEntityID,
	}
}

// ProvisioningArchive is the immutable, append-only record of a terminated
// operation, carrying the full resolved context so every outcome is
// explainable after the fact.
type ProvisioningArchive struct {
	// ID is the archive record identifier.
	ID string
	// OperationID is the archived operation's identifier.
	OperationID string
	// Type is the archived operation's change kind.
	Type OperationType
	// SystemID identifies the target system.
	SystemID string
	// EntityType tags the owning entity kind.
	EntityType string
	// EntityID is the owning IdM entity.
	EntityID string
	// SystemEntityID references the target-system placeholder row.
	SystemEntityID string
	// AccountID references the account, when one existed.
	AccountID string
	// Context is the frozen resolved attribute payload.
	Context ProvisioningContext
	// Attempts is the number of attempts the operation consumed.
	Attempts int
	// Result is the terminal outcome.
	Result OperationResult
	// CreateTime is the original operation's creation time.
	CreateTime time.Time
	// ArchivedAt is when the operation terminated.
	ArchivedAt time.Time
}

// NewProvisioningArchive converts a terminated operation into its archive
// record.
func NewProvisioningArchive(op *ProvisioningOperation) *ProvisioningArchive {
	return &ProvisioningArchive{
		ID:             uuid.New().String(),
		OperationID:    op.ID,
		Type:           op.Type,
		SystemID:       op.SystemID,
		EntityType:     op.EntityType,
		EntityID:       op.EntityID,
		SystemEntityID: op.SystemEntityID,
		AccountID:      op.AccountID,
		Context:        op.Context,
		Attempts:       op.CurrentAttempt,
		Result:         op.Result,
		CreateTime:     op.CreateTime,
		ArchivedAt:     time.Now(),
	}
}
