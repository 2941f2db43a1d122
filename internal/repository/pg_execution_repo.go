package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/actionqueue/internal/domain"
)

type pgExecutionRepository struct {
	pool *pgxpool.Pool
}

// NewPgExecutionRepository returns an ExecutionRepository backed by PostgreSQL.
func NewPgExecutionRepository(pool *pgxpool.Pool) ExecutionRepository {
	return &pgExecutionRepository{pool: pool}
}

func (r *pgExecutionRepository) Record(ctx context.Context, e *domain.Execution) error {
	query, args, err := upsertExecution(sq.Dollar, e, e.StartedAt, e.FinishedAt).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (r *pgExecutionRepository) GetByID(ctx context.Context, id string) (*domain.Execution, error) {
	query, args, err := selectExecutions(sq.Dollar).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	e, err := scanExecution(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return e, err
}

func (r *pgExecutionRepository) List(ctx context.Context, f domain.ListFilter) ([]*domain.Execution, int, error) {
	countQuery, countArgs, err := countExecutions(sq.Dollar, f).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count: %w", err)
	}

	// Count total matching rows for pagination metadata.
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}

	query, args, err := listExecutions(sq.Dollar, f).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var executions []*domain.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, 0, err
		}
		executions = append(executions, e)
	}
	return executions, total, rows.Err()
}

// scanExecution reads a single execution row from any pgx row type.
func scanExecution(row pgx.Row) (*domain.Execution, error) {
	var e domain.Execution
	err := row.Scan(
		&e.ID, &e.Name, &e.Target, &e.Outcome, &e.Attempts, &e.Reports,
		&e.LastMessage, &e.ErrorMessage, &e.StartedAt, &e.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
