package sql

import (
	"encoding/json"

	model "accord/pkg/provision/core/domain/model"
)

// --- Mapper functions ---

func fromDomainAccount(a *model.Account) *AccountEntity {
	if a == nil {
		return nil
	}
	return &AccountEntity{
		ID:              a.ID,
		UID:             a.UID,
		SystemID:        a.SystemID,
		EntityType:      a.EntityType,
		EntityID:        a.EntityID,
		SystemEntityID:  a.SystemEntityID,
		MappingID:       a.MappingID,
		InProtection:    a.InProtection,
		EndOfProtection: a.EndOfProtection,
		CreateTime:      a.CreateTime,
		LastUpdated:     a.LastUpdated,
	}
}

func toDomainAccount(entity *AccountEntity) *model.Account {
	if entity == nil {
		return nil
	}
	return &model.Account{
		ID:              entity.ID,
		UID:             entity.UID,
		SystemID:        entity.SystemID,
		EntityType:      entity.EntityType,
		EntityID:        entity.EntityID,
		SystemEntityID:  entity.SystemEntityID,
		MappingID:       entity.MappingID,
		InProtection:    entity.InProtection,
		EndOfProtection: entity.EndOfProtection,
		CreateTime:      entity.CreateTime,
		LastUpdated:     entity.LastUpdated,
	}
}

func fromDomainSystemEntity(se *model.SystemEntity) *SystemEntityEntity {
	if se == nil {
		return nil
	}
	return &SystemEntityEntity{
		ID:         se.ID,
		UID:        se.UID,
		EntityType: se.EntityType,
		SystemID:   se.SystemID,
		Wish:       se.Wish,
		CreateTime: se.CreateTime,
	}
}

func toDomainSystemEntity(entity *SystemEntityEntity) *model.SystemEntity {
	if entity == nil {
		return nil
	}
	return &model.SystemEntity{
		ID:         entity.ID,
		UID:        entity.UID,
		EntityType: entity.EntityType,
		SystemID:   entity.SystemID,
		Wish:       entity.Wish,
		CreateTime: entity.CreateTime,
	}
}

func fromDomainOperation(op *model.ProvisioningOperation) *OperationEntity {
	if op == nil {
		return nil
	}
	return &OperationEntity{
		ID:             op.ID,
		Type:           string(op.Type),
		SystemID:       op.SystemID,
		EntityType:     op.EntityType,
		EntityID:       op.EntityID,
		SystemEntityID: op.SystemEntityID,
		AccountID:      op.AccountID,
		BatchID:        op.BatchID,
		Context:        op.Context,
		State:          string(op.Result.State),
		CurrentAttempt: op.CurrentAttempt,
		MaxAttempts:    op.MaxAttempts,
		Result:         op.Result,
		CreateTime:     op.CreateTime,
		Version:        op.Version,
	}
}

func toDomainOperation(entity *OperationEntity) *model.ProvisioningOperation {
	if entity == nil {
		return nil
	}
	return &model.ProvisioningOperation{
		ID:             entity.ID,
		Type:           model.OperationType(entity.Type),
		SystemID:       entity.SystemID,
		EntityType:     entity.EntityType,
		EntityID:       entity.EntityID,
		SystemEntityID: entity.SystemEntityID,
		AccountID:      entity.AccountID,
		BatchID:        entity.BatchID,
		Context:        entity.Context,
		CurrentAttempt: entity.CurrentAttempt,
		MaxAttempts:    entity.MaxAttempts,
		Result:         entity.Result,
		CreateTime:     entity.CreateTime,
		Version:        entity.Version,
	}
}

func fromDomainBatch(b *model.ProvisioningBatch) *BatchEntity {
	if b == nil {
		return nil
	}
	entity := &BatchEntity{
		ID:                   b.ID,
		SystemID:             b.SystemID,
		SystemEntityID:       b.SystemEntityID,
		ExecutingOperationID: b.ExecutingOperationID,
		Version:              b.Version,
	}
	if !b.NextAttempt.IsZero() {
		next := b.NextAttempt
		entity.NextAttempt = &next
	}
	return entity
}

func toDomainBatch(entity *BatchEntity) *model.ProvisioningBatch {
	if entity == nil {
		return nil
	}
	batch := &model.ProvisioningBatch{
		ID:                   entity.ID,
		SystemID:             entity.SystemID,
		SystemEntityID:       entity.SystemEntityID,
		ExecutingOperationID: entity.ExecutingOperationID,
		Version:              entity.Version,
	}
	if entity.NextAttempt != nil {
		batch.NextAttempt = *entity.NextAttempt
	}
	return batch
}

func fromDomainArchive(a *model.ProvisioningArchive) *ArchiveEntity {
	if a == nil {
		return nil
	}
	return &ArchiveEntity{
		ID:             a.ID,
		OperationID:    a.OperationID,
		Type:           string(a.Type),
		SystemID:       a.SystemID,
		EntityType:     a.EntityType,
		EntityID:       a.EntityID,
		SystemEntityID: a.SystemEntityID,
		AccountID:      a.AccountID,
		Context:        a.Context,
		Attempts:       a.Attempts,
		Result:         a.Result,
		CreateTime:     a.CreateTime,
		ArchivedAt:     a.ArchivedAt,
	}
}

func toDomainArchive(entity *ArchiveEntity) *model.ProvisioningArchive {
	if entity == nil {
		return nil
	}
	return &model.ProvisioningArchive{
		ID:             entity.ID,
		OperationID:    entity.OperationID,
		Type:           model.OperationType(entity.Type),
		SystemID:       entity.SystemID,
		EntityType:     entity.EntityType,
		EntityID:       entity.EntityID,
		SystemEntityID: entity.SystemEntityID,
		AccountID:      entity.AccountID,
		Context:        entity.Context,
		Attempts:       entity.Attempts,
		Result:         entity.Result,
		CreateTime:     entity.CreateTime,
		ArchivedAt:     entity.ArchivedAt,
	}
}

func fromDomainVsRequest(r *model.VsRequest) *VsRequestEntity {
	if r == nil {
		return nil
	}
	return &VsRequestEntity{
		ID:             r.ID,
		UID:            r.UID,
		SystemID:       r.SystemID,
		ConnectorKey:   r.ConnectorKey,
		Type:           string(r.Type),
		State:          string(r.State),
		TargetEntityID: r.TargetEntityID,
		Attributes:     r.Attributes,
		Descriptors:    r.Descriptors,
		Reason:         r.Reason,
		Note:           r.Note,
		CreateTime:     r.CreateTime,
		ResolvedAt:     r.ResolvedAt,
	}
}

func toDomainVsRequest(entity *VsRequestEntity) *model.VsRequest {
	if entity == nil {
		return nil
	}
	return &model.VsRequest{
		ID:             entity.ID,
		UID:            entity.UID,
		SystemID:       entity.SystemID,
		ConnectorKey:   entity.ConnectorKey,
		Type:           model.OperationType(entity.Type),
		State:          model.VsRequestState(entity.State),
		TargetEntityID: entity.TargetEntityID,
		Attributes:     entity.Attributes,
		Descriptors:    entity.Descriptors,
		Reason:         entity.Reason,
		Note:           entity.Note,
		CreateTime:     entity.CreateTime,
		ResolvedAt:     entity.ResolvedAt,
	}
}

func fromDomainVsAccount(a *model.VsAccount) *VsAccountEntity {
	if a == nil {
		return nil
	}
	return &VsAccountEntity{
		UID:         a.UID,
		SystemID:    a.SystemID,
		Attributes:  a.Attributes,
		LastUpdated: a.LastUpdated,
	}
}

func toDomainVsAccount(entity *VsAccountEntity) *model.VsAccount {
	if entity == nil {
		return nil
	}
	return &model.VsAccount{
		UID:         entity.UID,
		SystemID:    entity.SystemID,
		Attributes:  entity.Attributes,
		LastUpdated: entity.LastUpdated,
	}
}

func fromDomainSyncRun(r *model.SyncRun) (*SyncRunEntity, error) {
	if r == nil {
		return nil, nil
	}
	summary, err := json.Marshal(r.Summary)
	if err != nil {
		return nil, err
	}
	return &SyncRunEntity{
		ID:         r.ID,
		ConfigName: r.ConfigName,
		SystemID:   r.SystemID,
		Status:     string(r.Status),
		Summary:    string(summary),
		StartTime:  r.StartTime,
		EndTime:    r.EndTime,
	}, nil
}

func toDomainSyncRun(entity *SyncRunEntity) (*model.SyncRun, error) {
	if entity == nil {
		return nil, nil
	}
	run := &model.SyncRun{
		ID:         entity.ID,
		ConfigName: entity.ConfigName,
		SystemID:   entity.SystemID,
		Status:     model.SyncRunStatus(entity.Status),
		StartTime:  entity.StartTime,
		EndTime:    entity.EndTime,
	}
	if entity.Summary != "" {
		if err := json.Unmarshal([]byte(entity.Summary), &run.Summary); err != nil {
			return nil, err
		}
	}
	return run, nil
}
