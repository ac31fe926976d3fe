// Package inmemory provides an in-memory implementation of the provisioning
// Repository interface. It stores all engine data in maps within memory,
// suitable for testing and embedded deployments where persistence is not
// required.
package inmemory

import (
	"sync"

	model "accord/pkg/provision/core/domain/model"
)

// InMemoryRepository is an in-memory implementation of the Repository
// interface. It holds all provisioning data in in-memory maps. Stored records
// are copied on the way in and out, so callers never share memory with the
// store.
type InMemoryRepository struct {
	accounts       map[string]*model.Account
	systemEntities map[string]*model.SystemEntity
	operations     map[string]*model.ProvisioningOperation
	batches        map[string]*model.ProvisioningBatch
	archives       map[string]*model.ProvisioningArchive
	vsRequests     map[string]*model.VsRequest
	vsAccounts     map[string]*model.VsAccount
	syncRuns       map[string]*model.SyncRun
	mu             sync.RWMutex // Mutex to protect concurrent access to maps.
}

// NewInMemoryRepository creates and initializes a new InMemoryRepository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		accounts:       make(map[string]*model.Account),
		systemEntities: make(map[string]*model.SystemEntity),
		operations:     make(map[string]*model.ProvisioningOperation),
		batches:        make(map[string]*model.ProvisioningBatch),
		archives:       make(map[string]*model.ProvisioningArchive),
		vsRequests:     make(map[string]*model.VsRequest),
		vsAccounts:     make(map[string]*model.VsAccount),
		syncRuns:       make(map[string]*model.SyncRun),
	}
}

// Close releases resources used by the repository. As an in-memory
// repository, it holds no external resources, so this method always returns
// nil.
func (r *InMemoryRepository) Close() error {
	return nil
}

func vsAccountKey(systemID, uid string) string {
	return systemID + "\x00" + uid
}

func cloneAccount(a *model.Account) *model.Account {
	c := *a
	if a.EndOfProtection != nil {
		t := *a.EndOfProtection
		c.EndOfProtection = &t
	}
	return &c
}

func cloneSystemEntity(e *model.SystemEntity) *model.SystemEntity {
	c := *e
	return &c
}

func cloneOperation(o *model.ProvisioningOperation) *model.ProvisioningOperation {
	c := *o
	c.Context.Attributes = o.Context.Attributes.Clone()
	c.Context.Descriptors = o.Context.Descriptors.Clone()
	return &c
}

func cloneBatch(b *model.ProvisioningBatch) *model.ProvisioningBatch {
	c := *b
	return &c
}

func cloneArchive(a *model.ProvisioningArchive) *model.ProvisioningArchive {
	c := *a
	c.Context.Attributes = a.Context.Attributes.Clone()
	c.Context.Descriptors = a.Context.Descriptors.Clone()
	return &c
}

func cloneVsRequest(q *model.VsRequest) *model.VsRequest {
	c := *q
	c.Attributes = q.Attributes.Clone()
	c.Descriptors = q.Descriptors.Clone()
	if q.ResolvedAt != nil {
		t := *q.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

func cloneVsAccount(a *model.VsAccount) *model.VsAccount {
	c := *a
	c.Attributes = a.Attributes.Clone()
	return &c
}

func cloneSyncRun(s *model.SyncRun) *model.SyncRun {
	c := *s
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	c.Summary.Errors = append([]string(nil), s.Summary.Errors...)
	return &c
}
