package store

import (
	"context"
	"sync"

	"github.com/dunamismax/resizeflow/internal/domain"
)

type MemoryUsageStore struct {
	mu   sync.RWMutex
	logs []domain.UsageLog
}

func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{}
}

func (s *MemoryUsageStore) CreateUsageLog(_ context.Context, log domain.UsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, log)
	return nil
}

func (s *MemoryUsageStore) Summary(_ context.Context, subjectID string) (domain.UsageSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := domain.UsageSummary{SubjectID: subjectID}
	for _, log := range s.logs {
		if log.SubjectID == subjectID {
			summary.Add(log)
		}
	}
	return summary, nil
}

// Logs returns a copy of every recorded log in insertion order.
func (s *MemoryUsageStore) Logs() []domain.UsageLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.UsageLog(nil), s.logs...)
}
