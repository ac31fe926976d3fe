package model

import (
	"time"

	"github.com/google/uuid"
)

// SyncSituation classifies one connector-object/IdM-entity pairing during a
// synchronization pass.
type SyncSituation string

const (
	// SituationLinked means an account already maps the connector object.
	SituationLinked SyncSituation = "LINKED"
	// SituationUnlinked means a matching IdM entity exists but no account.
	SituationUnlinked SyncSituation = "UNLINKED"
	// SituationMissingEntity means no IdM entity correlates.
	SituationMissingEntity SyncSituation = "MISSING_ENTITY"
	// SituationMissingAccount means an account has no connector object.
	SituationMissingAccount SyncSituation = "MISSING_ACCOUNT"
)

// SyncAction is a configured resolution for a situation.
type SyncAction string

const (
	ActionIgnore        SyncAction = "IGNORE"
	ActionWarn          SyncAction = "WARN"
	ActionLink          SyncAction = "LINK"
	ActionUnlink        SyncAction = "UNLINK"
	ActionCreateEntity  SyncAction = "CREATE_ENTITY"
	ActionCreateAccount SyncAction = "CREATE_ACCOUNT"
	ActionUpdateEntity  SyncAction = "UPDATE_ENTITY"
	ActionUpdateAccount SyncAction = "UPDATE_ACCOUNT"
	ActionDeleteAccount SyncAction = "DELETE_ACCOUNT"
)

// SyncRunStatus represents the state of a synchronization run.
type SyncRunStatus string

const (
	SyncRunStarted   SyncRunStatus = "STARTED"
	SyncRunCompleted SyncRunStatus = "COMPLETED"
	SyncRunFailed    SyncRunStatus = "FAILED"
	SyncRunCanceled  SyncRunStatus = "CANCELED"
)

// SyncItemContext is the ephemeral per-item state of a reconciliation pass.
// It is never persisted beyond the run.
type SyncItemContext struct {
	// ConnectorObject is the enumerated target-system object; nil for the
	// missing-account pass.
	ConnectorObject AttributeMap
	// UID is the connector object's logical key.
	UID string
	// EntityID is the correlated IdM entity, when one was found.
	EntityID string
	// Account is the mapped account row, when one exists.
	Account *Account
	// Situation is the classification of the pairing.
	Situation SyncSituation
	// Action is the configured resolution chosen for the situation.
	Action SyncAction
}

// SyncRunSummary aggregates the outcome of one reconciliation run.
type SyncRunSummary struct {
	// Scanned counts connector objects enumerated during the pass.
	Scanned int
	// Linked, Unlinked, MissingEntity and MissingAccount count classified
	// situations.
	Linked         int
	Unlinked       int
	MissingEntity  int
	MissingAccount int
	// Created, Updated and Deleted count operations the run produced.
	Created int
	Updated int
	Deleted int
	// Ignored counts items resolved by an IGNORE or WARN action.
	Ignored int
	// Errors holds per-item failures; they never abort the run.
	Errors []string
}

// ChangeCount is the total number of outbound changes the run produced. A
// drift-free re-run reports zero.
func (s *SyncRunSummary) ChangeCount() int {
	return s.Created + s.Updated + s.Deleted
}

// SyncRun is the persisted record of one reconciliation run.
type SyncRun struct {
	// ID is the run identifier.
	ID string
	// ConfigName names the synchronization configuration that ran.
	ConfigName string
	// SystemID identifies the reconciled system.
	SystemID string
	// Status is the run's lifecycle state.
	Status SyncRunStatus
	// Summary is the aggregated outcome.
	Summary SyncRunSummary
	// StartTime and EndTime bound the run.
	StartTime time.Time
	EndTime   *time.Time
}

// NewSyncRun creates a started run record for a configuration.
func NewSyncRun(configName, systemID string) *SyncRun {
	return &SyncRun{
		ID:         uuid.New().String(),
		ConfigName: configName,
		SystemID:   systemID,
		Status:     SyncRunStarted,
		StartTime:  time.Now(),
	}
}

// Finish closes the run with the given status and summary.
func (r *SyncRun) Finish(status SyncRunStatus, summary SyncRunSummary) {
	now := time.Now()
	r.Status = status
	r.Summary = summary
	r.EndTime = &now
}
