// Package memory keeps settlements, attempts and audit entries in process
// for runs without a database. Each store is bounded and drops the oldest
// rows first.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

const defaultCapacity = 1024

// SettlementStore is a bounded in-process domain.SettlementStore.
type SettlementStore struct {
	mu   sync.RWMutex
	rows []domain.Settlement
	cap  int
}

func NewSettlementStore(capacity int) *SettlementStore {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &SettlementStore{cap: capacity}
}

func (s *SettlementStore) Create(_ context.Context, st domain.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.ID == st.ID {
			return fmt.Errorf("memory: settlement %q: %w", st.ID, domain.ErrAlreadyExists)
		}
	}
	s.rows = appendBounded(s.rows, st, s.cap)
	return nil
}

func (s *SettlementStore) GetByID(_ context.Context, id string) (domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.Settlement{}, fmt.Errorf("memory: settlement %q: %w", id, domain.ErrNotFound)
}

// ListRecent returns settlements newest first.
func (s *SettlementStore) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.rows, opts, func(r domain.Settlement) time.Time { return r.SettledAt }), nil
}

// ListBefore returns settlements older than before, oldest first.
func (s *SettlementStore) ListBefore(_ context.Context, before time.Time) ([]domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Settlement
	for _, r := range s.rows {
		if r.SettledAt.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

// DeleteBefore drops settlements older than before.
func (s *SettlementStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	var n int64
	for _, r := range s.rows {
		if r.SettledAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept
	return n, nil
}

// AttemptStore is a bounded in-process domain.AttemptStore.
type AttemptStore struct {
	mu   sync.RWMutex
	rows []domain.Attempt
	cap  int
}

func NewAttemptStore(capacity int) *AttemptStore {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &AttemptStore{cap: capacity}
}

func (s *AttemptStore) Record(_ context.Context, a domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = appendBounded(s.rows, a, s.cap)
	return nil
}

func (s *AttemptStore) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.rows, opts, func(a domain.Attempt) time.Time { return a.CreatedAt }), nil
}

// AuditStore is a bounded in-process domain.AuditStore.
type AuditStore struct {
	mu     sync.RWMutex
	rows   []domain.AuditEntry
	cap    int
	nextID int64
	now    func() time.Time
}

func NewAuditStore(capacity int) *AuditStore {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &AuditStore{cap: capacity, now: time.Now}
}

func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.rows = appendBounded(s.rows, domain.AuditEntry{
		ID:        s.nextID,
		Event:     event,
		Detail:    detail,
		CreatedAt: s.now().UTC(),
	}, s.cap)
	return nil
}

func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.rows, opts, func(e domain.AuditEntry) time.Time { return e.CreatedAt }), nil
}

func appendBounded[T any](rows []T, v T, capacity int) []T {
	rows = append(rows, v)
	if over := len(rows) - capacity; over > 0 {
		rows = append(rows[:0:0], rows[over:]...)
	}
	return rows
}

// newestFirst walks rows backwards applying the time window, offset and
// limit of opts.
func newestFirst[T any](rows []T, opts domain.ListOpts, at func(T) time.Time) []T {
	out := make([]T, 0)
	skipped := 0
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		ts := at(r)
		if opts.Since != nil && ts.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && ts.After(*opts.Until) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, r)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out
}
