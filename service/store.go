package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AnTengye/esignflow/config"
	"github.com/AnTengye/esignflow/model"
	"github.com/google/uuid"
)

// Store is the persistence boundary the orchestrator drives. Every status
// write that is visible in the public lifecycle appends exactly one status
// log entry in the same operation.
type Store interface {
	GetContract(ctx context.Context, id string) (*model.Contract, error)
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	SaveContract(ctx context.Context, contract *model.Contract) error
	SaveProduct(ctx context.Context, product *model.Product) error

	// CompareAndSwapStatus atomically moves a contract from one status to
	// another without touching the status log. Used for the orchestration
	// claim and its revert. Fails with a PreconditionError when the
	// contract is not in the expected status.
	CompareAndSwapStatus(ctx context.Context, id string, from, to model.ContractStatus) error

	// CommitSigning persists flow id, sign url, expiry and the final
	// status of a successful orchestration, and appends the status log
	// entry, as one operation. The contract must currently hold the
	// orchestration claim.
	CommitSigning(ctx context.Context, id, flowID, signURL string, expireAt time.Time, from, to model.ContractStatus, operatorID, remark string) error

	// UpdateSignURL replaces only the sign url and its expiry
	UpdateSignURL(ctx context.Context, id, signURL string, expireAt time.Time) error

	// TransitionStatus validates from -> to against the transition table,
	// applies it and appends one status log entry
	TransitionStatus(ctx context.Context, id string, from, to model.ContractStatus, operatorID, remark string) error

	ListStatusLog(ctx context.Context, contractID string) ([]model.StatusLogEntry, error)
}

// MemoryStore is an in-memory Store for development and tests
type MemoryStore struct {
	mu           sync.RWMutex
	contracts    map[string]*model.Contract
	products     map[string]*model.Product
	logs         []model.StatusLogEntry
	maxContracts int // 0 = unlimited
}

func NewMemoryStore(cfg *config.StoreConfig) *MemoryStore {
	maxContracts := 0
	if cfg != nil && cfg.MaxContracts > 0 {
		maxContracts = cfg.MaxContracts
	}
	return &MemoryStore{
		contracts:    make(map[string]*model.Contract),
		products:     make(map[string]*model.Product),
		maxContracts: maxContracts,
	}
}

func (s *MemoryStore) GetContract(_ context.Context, id string) (*model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contract, ok := s.contracts[id]
	if !ok {
		return nil, fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	copied := *contract
	return &copied, nil
}

func (s *MemoryStore) GetProduct(_ context.Context, id string) (*model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	copied := *product
	return &copied, nil
}

func (s *MemoryStore) SaveContract(_ context.Context, contract *model.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contract.UpdatedAt = time.Now()
	copied := *contract
	s.contracts[contract.ID] = &copied

	// Evict oldest contracts over the cap
	if s.maxContracts > 0 && len(s.contracts) > s.maxContracts {
		all := make([]*model.Contract, 0, len(s.contracts))
		for _, c := range s.contracts {
			all = append(all, c)
		}
		sort.Slice(all, func(i, j int) bool {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		})
		for _, c := range all[:len(all)-s.maxContracts] {
			delete(s.contracts, c.ID)
		}
	}
	return nil
}

func (s *MemoryStore) SaveProduct(_ context.Context, product *model.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *product
	s.products[product.ID] = &copied
	return nil
}

func (s *MemoryStore) CompareAndSwapStatus(_ context.Context, id string, from, to model.ContractStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contract, ok := s.contracts[id]
	if !ok {
		return fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	if contract.Status != from {
		return &PreconditionError{Reason: fmt.Sprintf("contract %s is %s, expected %s", id, contract.Status, from)}
	}
	contract.Status = to
	contract.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) CommitSigning(_ context.Context, id, flowID, signURL string, expireAt time.Time, from, to model.ContractStatus, operatorID, remark string) error {
	if err := model.ValidateTransition(from, to); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	contract, ok := s.contracts[id]
	if !ok {
		return fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	if contract.Status != model.StatusInitiating {
		return &PreconditionError{Reason: fmt.Sprintf("contract %s is %s, expected the orchestration claim", id, contract.Status)}
	}

	now := time.Now()
	contract.FlowID = flowID
	contract.SignURL = signURL
	contract.SignURLExpireAt = &expireAt
	contract.Status = to
	contract.UpdatedAt = now

	s.appendLog(id, &from, to, operatorID, remark, now)
	return nil
}

func (s *MemoryStore) UpdateSignURL(_ context.Context, id, signURL string, expireAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contract, ok := s.contracts[id]
	if !ok {
		return fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	contract.SignURL = signURL
	contract.SignURLExpireAt = &expireAt
	contract.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) TransitionStatus(_ context.Context, id string, from, to model.ContractStatus, operatorID, remark string) error {
	if err := model.ValidateTransition(from, to); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	contract, ok := s.contracts[id]
	if !ok {
		return fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	if contract.Status != from {
		return &PreconditionError{Reason: fmt.Sprintf("contract %s is %s, expected %s", id, contract.Status, from)}
	}

	now := time.Now()
	contract.Status = to
	contract.UpdatedAt = now

	s.appendLog(id, &from, to, operatorID, remark, now)
	return nil
}

func (s *MemoryStore) ListStatusLog(_ context.Context, contractID string) ([]model.StatusLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []model.StatusLogEntry
	for _, e := range s.logs {
		if e.ContractID == contractID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// appendLog records one immutable transition entry; callers hold the lock
func (s *MemoryStore) appendLog(contractID string, from *model.ContractStatus, to model.ContractStatus, operatorID, remark string, at time.Time) {
	s.logs = append(s.logs, model.StatusLogEntry{
		ID:         uuid.New().String(),
		ContractID: contractID,
		FromStatus: from,
		ToStatus:   to,
		OperatorID: operatorID,
		Remark:     remark,
		CreatedAt:  at,
	})
}
