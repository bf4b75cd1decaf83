package store

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/treadlog/treadlog/internal/errors"
	"github.com/treadlog/treadlog/internal/models"
)

// MemoryStore provides an in-memory registry, usage ledger and vehicle
// cache. It is thread-safe and supports concurrent access.
type MemoryStore struct {
	mu          sync.RWMutex
	accounts    map[string]*models.Account
	subAccounts map[string]*models.SubAccount
	events      []models.UsageEvent
	vehicles    map[string]*models.Vehicle
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[string]*models.Account),
		subAccounts: make(map[string]*models.SubAccount),
		vehicles:    make(map[string]*models.Vehicle),
	}
}

// Registry operations

// GetAccount retrieves an account by ID
func (s *MemoryStore) GetAccount(id string) (*models.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, false
	}
	return acc, true
}

// SetAccount stores or updates an account
func (s *MemoryStore) SetAccount(acc *models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[acc.ID] = acc
}

// DeleteAccount removes an account and its sub-accounts
func (s *MemoryStore) DeleteAccount(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return false
	}
	delete(s.accounts, id)
	for subID, sub := range s.subAccounts {
		if sub.OwnerAccountID == id {
			delete(s.subAccounts, subID)
		}
	}
	return true
}

// ListAccounts returns all accounts
func (s *MemoryStore) ListAccounts() []*models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		result = append(result, acc)
	}
	return result
}

// GetSubAccount retrieves a sub-account by ID
func (s *MemoryStore) GetSubAccount(id string) (*models.SubAccount, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subAccounts[id]
	if !ok {
		return nil, false
	}
	return sub, true
}

// SetSubAccount stores or updates a sub-account
func (s *MemoryStore) SetSubAccount(sub *models.SubAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subAccounts[sub.ID] = sub
}

// DeleteSubAccount removes a sub-account
func (s *MemoryStore) DeleteSubAccount(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subAccounts[id]; !ok {
		return false
	}
	delete(s.subAccounts, id)
	return true
}

// ListSubAccounts returns all sub-accounts owned by an account
func (s *MemoryStore) ListSubAccounts(ownerAccountID string) []*models.SubAccount {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.SubAccount, 0)
	for _, sub := range s.subAccounts {
		if sub.OwnerAccountID == ownerAccountID {
			result = append(result, sub)
		}
	}
	return result
}

// Ledger operations

// AppendUsage inserts a new immutable usage event and returns it. It is a
// pure storage primitive and performs no limit checking.
func (s *MemoryStore) AppendUsage(ev *models.UsageEvent) (*models.UsageEvent, error) {
	if ev == nil {
		return nil, &errors.ErrConfiguration{Field: "usage_event", Err: errNilEvent}
	}
	if err := ev.Validate(); err != nil {
		return nil, &errors.ErrConfiguration{Field: "usage_event", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *ev
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	stored.CreatedAt = stored.CreatedAt.UTC()
	s.events = append(s.events, stored)
	return &stored, nil
}

// CountByActor counts usage events by an actor within [windowStart, windowEnd)
func (s *MemoryStore) CountByActor(actorID string, windowStart, windowEnd time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for i := range s.events {
		ev := &s.events[i]
		if ev.ActorID != actorID {
			continue
		}
		if inWindow(ev.CreatedAt, windowStart, windowEnd) {
			count++
		}
	}
	return count, nil
}

// CountByAccountPool counts usage events billed to an account's pool within
// [windowStart, windowEnd). Legacy events without a billing reference count
// when the actor is the account itself.
func (s *MemoryStore) CountByAccountPool(accountID string, windowStart, windowEnd time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for i := range s.events {
		ev := &s.events[i]
		if ev.BilledAccount() != accountID {
			continue
		}
		if inWindow(ev.CreatedAt, windowStart, windowEnd) {
			count++
		}
	}
	return count, nil
}

// HasRecentUsage reports whether the actor has a usage event for the exact
// normalized resource key within [since, until).
func (s *MemoryStore) HasRecentUsage(actorID, resourceKey string, since, until time.Time) (bool, error) {
	if resourceKey == "" {
		return false, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.events {
		ev := &s.events[i]
		if ev.ActorID != actorID || ev.ResourceKey != resourceKey {
			continue
		}
		if inWindow(ev.CreatedAt, since, until) {
			return true, nil
		}
	}
	return false, nil
}

// Vehicle cache operations

// GetVehicle retrieves a cached vehicle by normalized VRM
func (s *MemoryStore) GetVehicle(vrm string) (*models.Vehicle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vehicles[strings.ToUpper(vrm)]
	if !ok {
		return nil, false
	}
	return v, true
}

// UpsertVehicle stores or replaces a cached vehicle
func (s *MemoryStore) UpsertVehicle(v *models.Vehicle) error {
	if v == nil || v.VRM == "" {
		return &errors.ErrConfiguration{Field: "vehicle", Err: errEmptyVRM}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.vehicles[strings.ToUpper(v.VRM)] = v
	return nil
}

// Clear removes all data from the store
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts = make(map[string]*models.Account)
	s.subAccounts = make(map[string]*models.SubAccount)
	s.events = nil
	s.vehicles = make(map[string]*models.Vehicle)
}

// Stats returns statistics about the store
func (s *MemoryStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return StoreStats{
		AccountCount:    len(s.accounts),
		SubAccountCount: len(s.subAccounts),
		UsageEventCount: len(s.events),
		VehicleCount:    len(s.vehicles),
	}
}

// Close implements Store Close (no-op for memory store).
func (s *MemoryStore) Close() error {
	return nil
}

func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}

// StoreStats contains statistics about the store
type StoreStats struct {
	AccountCount    int
	SubAccountCount int
	UsageEventCount int
	VehicleCount    int
}

// Ensure MemoryStore implements the Store interface
var _ Store = (*MemoryStore)(nil)

// Store defines the interface for the quota registry, usage ledger and
// vehicle cache
type Store interface {
	// Registry operations
	GetAccount(id string) (*models.Account, bool)
	SetAccount(acc *models.Account)
	DeleteAccount(id string) bool
	ListAccounts() []*models.Account
	GetSubAccount(id string) (*models.SubAccount, bool)
	SetSubAccount(sub *models.SubAccount)
	DeleteSubAccount(id string) bool
	ListSubAccounts(ownerAccountID string) []*models.SubAccount

	// Ledger operations
	AppendUsage(ev *models.UsageEvent) (*models.UsageEvent, error)
	CountByActor(actorID string, windowStart, windowEnd time.Time) (int, error)
	CountByAccountPool(accountID string, windowStart, windowEnd time.Time) (int, error)
	HasRecentUsage(actorID, resourceKey string, since, until time.Time) (bool, error)

	// Vehicle cache operations
	GetVehicle(vrm string) (*models.Vehicle, bool)
	UpsertVehicle(v *models.Vehicle) error

	// Management
	Clear()
	Stats() StoreStats
	Close() error
}
