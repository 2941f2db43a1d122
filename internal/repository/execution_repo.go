package repository

import (
	"context"

	"github.com/notifyhub/actionqueue/internal/domain"
)

// ExecutionRepository is the execution journal: an audit trail of finished
// jobs. It is never read back into queue state.
// Implementations: pg_execution_repo.go (PostgreSQL), sqlite_execution_repo.go
// (embedded SQLite) and mock_execution_repo.go (in-memory, tests and the
// default when no database is configured).
type ExecutionRepository interface {
	Record(ctx context.Context, e *domain.Execution) error
	GetByID(ctx context.Context, id string) (*domain.Execution, error)
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.Execution, int, error)
}
