package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/okian/lootbox/internal/domain/model"
)

// MemoryStore keeps the ledger in process. Entries do not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]model.LedgerEntry
	opts    storeOptions
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	o := defaultStoreOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryStore{
		entries: make(map[string]model.LedgerEntry),
		opts:    o,
	}
}

func (s *MemoryStore) Record(_ context.Context, entry model.LedgerEntry) error {
	if entry.SpinID == "" {
		return fmt.Errorf("%w: empty spin id", ErrInvalidEntry)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.SpinID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, entry.SpinID)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.opts.now()
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = entry.CreatedAt
	}
	s.entries[entry.SpinID] = entry
	return nil
}

func (s *MemoryStore) Get(_ context.Context, spinID string) (model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[spinID]
	if !ok {
		return model.LedgerEntry{}, fmt.Errorf("%w: %s", ErrNotFound, spinID)
	}
	return e, nil
}

func (s *MemoryStore) MarkFulfilled(_ context.Context, spinID, orderID string) error {
	return s.update(spinID, func(e *model.LedgerEntry) {
		e.Status = model.LedgerFulfilled
		e.OrderID = orderID
		e.LastError = ""
	})
}

func (s *MemoryStore) MarkFailed(_ context.Context, spinID, lastError string) error {
	return s.update(spinID, func(e *model.LedgerEntry) {
		e.Status = model.LedgerFailed
		e.LastError = lastError
	})
}

func (s *MemoryStore) update(spinID string, apply func(*model.LedgerEntry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[spinID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, spinID)
	}
	apply(&e)
	e.Attempts++
	e.UpdatedAt = s.opts.now()
	s.entries[spinID] = e
	return nil
}

func (s *MemoryStore) ListFailed(_ context.Context, maxAttempts, limit int) ([]model.LedgerEntry, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	out := make([]model.LedgerEntry, 0)
	for _, e := range s.entries {
		if e.Status == model.LedgerFailed && e.Attempts < maxAttempts {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SpinID < out[j].SpinID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}
