package repository

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/notifyhub/actionqueue/internal/domain"
)

// MockExecutionRepository is a hand-written, in-memory implementation of
// ExecutionRepository. It backs unit tests and servers started without a
// database URL.
type MockExecutionRepository struct {
	mu         sync.RWMutex
	executions map[string]*domain.Execution

	// Optional error overrides, set in tests to simulate failure paths.
	RecordErr error
	ListErr   error
}

func NewMockExecutionRepository() *MockExecutionRepository {
	return &MockExecutionRepository{executions: make(map[string]*domain.Execution)}
}

func (m *MockExecutionRepository) Record(_ context.Context, e *domain.Execution) error {
	if m.RecordErr != nil {
		return m.RecordErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *e
	m.executions[e.ID] = &clone
	return nil
}

func (m *MockExecutionRepository) GetByID(_ context.Context, id string) (*domain.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *e
	return &clone, nil
}

func (m *MockExecutionRepository) List(_ context.Context, f domain.ListFilter) ([]*domain.Execution, int, error) {
	if m.ListErr != nil {
		return nil, 0, m.ListErr
	}
	f = normalize(f)

	m.mu.RLock()
	var matched []*domain.Execution
	for _, e := range m.executions {
		if f.Outcome != nil && e.Outcome != *f.Outcome {
			continue
		}
		if f.Name != "" && e.Name != f.Name {
			continue
		}
		clone := *e
		matched = append(matched, &clone)
	}
	m.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *domain.Execution) int {
		return cmp.Compare(b.FinishedAt.UnixNano(), a.FinishedAt.UnixNano())
	})

	total := len(matched)
	start := min((f.Page-1)*f.Limit, total)
	end := min(start+f.Limit, total)
	return matched[start:end], total, nil
}

// Len returns the number of recorded executions.
func (m *MockExecutionRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.executions)
}

var _ ExecutionRepository = (*MockExecutionRepository)(nil)
