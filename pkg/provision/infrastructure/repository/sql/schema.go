package sql

import (
	"time"

	model "accord/pkg/provision/core/domain/model"
)

// AccountEntity is a schema model used for persistence.
type AccountEntity struct {
	ID              string `gorm:"primaryKey"`
	UID             string `gorm:"uniqueIndex:idx_account_uid_system"`
	SystemID        string `gorm:"uniqueIndex:idx_account_uid_system;index"`
	EntityType      string
	EntityID        string `gorm:"index"`
	SystemEntityID  string `gorm:"index"`
	MappingID       string
	InProtection    bool
	EndOfProtection *time.Time
	CreateTime      time.Time
	LastUpdated     time.Time
}

func (AccountEntity) TableName() string {
	return "accord_account"
}

// SystemEntityEntity is a schema model used for persistence.
type SystemEntityEntity struct {
	ID         string `gorm:"primaryKey"`
	UID        string `gorm:"uniqueIndex:idx_sysent_type_uid_system"`
	EntityType string `gorm:"uniqueIndex:idx_sysent_type_uid_system"`
	SystemID   string `gorm:"uniqueIndex:idx_sysent_type_uid_system;index"`
	Wish       bool
	CreateTime time.Time
}

func (SystemEntityEntity) TableName() string {
	return "accord_system_entity"
}

// OperationEntity is a schema model used for persistence. State mirrors the
// Result JSON so the claim query can filter on it.
type OperationEntity struct {
	ID             string `gorm:"primaryKey"`
	Type           string
	SystemID       string `gorm:"index"`
	EntityType     string
	EntityID       string
	SystemEntityID string
	AccountID      string `gorm:"index"`
	BatchID        string `gorm:"index"`
	Context        model.ProvisioningContext
	State          string `gorm:"index"`
	CurrentAttempt int
	MaxAttempts    int
	Result         model.OperationResult
	CreateTime     time.Time
	Version        int
}

func (OperationEntity) TableName() string {
	return "accord_operation"
}

// BatchEntity is a schema model used for persistence. NextAttempt is NULL
// when the batch is immediately runnable.
type BatchEntity struct {
	ID                   string `gorm:"primaryKey"`
	SystemID             string `gorm:"uniqueIndex:idx_batch_system_sysent"`
	SystemEntityID       string `gorm:"uniqueIndex:idx_batch_system_sysent"`
	NextAttempt          *time.Time
	ExecutingOperationID string
	Version              int
}

func (BatchEntity) TableName() string {
	return "accord_batch"
}

// ArchiveEntity is a schema model used for persistence.
type ArchiveEntity struct {
	ID             string `gorm:"primaryKey"`
	OperationID    string `gorm:"uniqueIndex"`
	Type           string
	SystemID       string `gorm:"index"`
	EntityType     string
	EntityID       string
	SystemEntityID string
	AccountID      string
	Context        model.ProvisioningContext
	Attempts       int
	Result         model.OperationResult
	CreateTime     time.Time
	ArchivedAt     time.Time `gorm:"index"`
}

func (ArchiveEntity) TableName() string {
	return "accord_archive"
}

// VsRequestEntity is a schema model used for persistence.
type VsRequestEntity struct {
	ID             string `gorm:"primaryKey"`
	UID            string `gorm:"index:idx_vsreq_system_uid"`
	SystemID       string `gorm:"index:idx_vsreq_system_uid"`
	ConnectorKey   string
	Type           string
	State          string `gorm:"index"`
	TargetEntityID string
	Attributes     model.AttributeMap
	Descriptors    model.DescriptorMap
	Reason         string
	Note           string
	CreateTime     time.Time
	ResolvedAt     *time.Time
}

func (VsRequestEntity) TableName() string {
	return "accord_vs_request"
}

// VsAccountEntity is a schema model used for persistence.
type VsAccountEntity struct {
	UID         string `gorm:"primaryKey"`
	SystemID    string `gorm:"primaryKey"`
	Attributes  model.AttributeMap
	LastUpdated time.Time
}

func (VsAccountEntity) TableName() string {
	return "accord_vs_account"
}

// SyncRunEntity is a schema model used for persistence. Summary is stored as
// JSON.
type SyncRunEntity struct {
	ID         string `gorm:"primaryKey"`
	ConfigName string `gorm:"index"`
	SystemID   string
	Status     string
	Summary    string
	StartTime  time.Time
	EndTime    *time.Time
}

func (SyncRunEntity) TableName() string {
	return "accord_sync_run"
}
