package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/notifyhub/actionqueue/internal/domain"
)

type sqliteExecutionRepository struct {
	db *sql.DB
}

// NewSqliteExecutionRepository returns an ExecutionRepository backed by an
// embedded SQLite database. Timestamps are stored as RFC 3339 text.
func NewSqliteExecutionRepository(db *sql.DB) ExecutionRepository {
	return &sqliteExecutionRepository{db: db}
}

func (r *sqliteExecutionRepository) Record(ctx context.Context, e *domain.Execution) error {
	query, args, err := upsertExecution(sq.Question, e,
		e.StartedAt.UTC().Format(time.RFC3339Nano),
		e.FinishedAt.UTC().Format(time.RFC3339Nano),
	).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (r *sqliteExecutionRepository) GetByID(ctx context.Context, id string) (*domain.Execution, error) {
	query, args, err := selectExecutions(sq.Question).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	e, err := scanSqliteExecution(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return e, err
}

func (r *sqliteExecutionRepository) List(ctx context.Context, f domain.ListFilter) ([]*domain.Execution, int, error) {
	countQuery, countArgs, err := countExecutions(sq.Question, f).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count: %w", err)
	}
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}

	query, args, err := listExecutions(sq.Question, f).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var executions []*domain.Execution
	for rows.Next() {
		e, err := scanSqliteExecution(rows)
		if err != nil {
			return nil, 0, err
		}
		executions = append(executions, e)
	}
	return executions, total, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSqliteExecution(row rowScanner) (*domain.Execution, error) {
	var (
		e                 domain.Execution
		started, finished string
	)
	err := row.Scan(
		&e.ID, &e.Name, &e.Target, &e.Outcome, &e.Attempts, &e.Reports,
		&e.LastMessage, &e.ErrorMessage, &started, &finished,
	)
	if err != nil {
		return nil, err
	}
	if e.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if e.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}
	return &e, nil
}
