package lock

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	ErrNotFound        = errors.New("loan lock not found")
	ErrAlreadyExists   = errors.New("loan lock already exists")
	ErrVersionConflict = errors.New("record version conflict")
)

// Store persists loan-lock records. Update is a compare-and-set on the
// record's Version: the write is rejected with ErrVersionConflict when the
// stored version has moved on, which is how concurrent duplicate messages are
// tolerated without a distributed lock.
type Store interface {
	Create(ctx context.Context, rec *LoanLock) error
	Get(ctx context.Context, loanApplicationID string) (*LoanLock, error)
	Update(ctx context.Context, rec *LoanLock) error
	List(ctx context.Context) ([]*LoanLock, error)
}

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*LoanLock
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*LoanLock)}
}

func (s *MemoryStore) Create(ctx context.Context, rec *LoanLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.LoanApplicationID]; ok {
		return ErrAlreadyExists
	}
	rec.Version = 1
	cp := *rec
	s.records[rec.LoanApplicationID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, loanApplicationID string) (*LoanLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[loanApplicationID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, rec *LoanLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[rec.LoanApplicationID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != rec.Version {
		return ErrVersionConflict
	}
	rec.Version++
	cp := *rec
	s.records[rec.LoanApplicationID] = &cp
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*LoanLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*LoanLock, 0, len(s.records))
	for _, rec := range s.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LoanApplicationID < out[j].LoanApplicationID
	})
	return out, nil
}
