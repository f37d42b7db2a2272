// Package memory provides an in-process report store for local runs and
// tests.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/pagegauge/pagegauge/internal/a11y"
)

// ReportStore keeps saved reports in a map keyed by generated id.
type ReportStore struct {
	mu      sync.RWMutex
	reports map[string]a11y.ReportRecord
}

// New builds an empty store.
func New() *ReportStore {
	return &ReportStore{reports: make(map[string]a11y.ReportRecord)}
}

// SaveReport stores the aggregate and returns its generated id.
func (s *ReportStore) SaveReport(_ context.Context, report a11y.ReportRecord) (string, error) {
	id := uuid.NewString()
	s.mu.Lock()
	s.reports[id] = report
	s.mu.Unlock()
	return id, nil
}

// Report returns a saved report by id.
func (s *ReportStore) Report(id string) (a11y.ReportRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[id]
	return report, ok
}

// Len reports how many reports are stored.
func (s *ReportStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports)
}
