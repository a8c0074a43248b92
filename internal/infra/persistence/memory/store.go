// Package memory provides an in-memory status store used by tests and
// ephemeral deployments.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"termsync/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain interface.
var _ domain.StatusStore = (*Store)(nil)

// Store keeps one status record per terminology in a map guarded by a RWMutex.
type Store struct {
	mu   sync.RWMutex
	rows map[string]domain.ImportStatus
	now  func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		rows: make(map[string]domain.ImportStatus),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Get returns the record for terminology.
func (s *Store) Get(_ context.Context, terminology string) (domain.ImportStatus, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[terminology]
	return row, ok, nil
}

// Upsert merges status into the stored record.
func (s *Store) Upsert(_ context.Context, status domain.ImportStatus) error {
	if strings.TrimSpace(status.Terminology) == "" {
		return errors.New("memory store: terminology required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prior, exists := s.rows[status.Terminology]
	s.rows[status.Terminology] = domain.MergeStatus(prior, exists, status, s.now())
	return nil
}

// List returns a copy of every record ordered by terminology.
func (s *Store) List(_ context.Context) ([]domain.ImportStatus, error) {
	s.mu.RLock()
	out := make([]domain.ImportStatus, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, row)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Terminology < out[j].Terminology })
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
