package repository

import (
	sq "github.com/Masterminds/squirrel"

	"github.com/notifyhub/actionqueue/internal/domain"
)

const executionsTable = "executions"

var executionColumns = []string{
	"id", "name", "target", "outcome", "attempts", "reports",
	"last_message", "error_message", "started_at", "finished_at",
}

// upsertExecution builds the journal write. Item ids may be reused once an
// item has left the queue, so a later run replaces the earlier record.
func upsertExecution(ph sq.PlaceholderFormat, e *domain.Execution, started, finished any) sq.InsertBuilder {
	return sq.Insert(executionsTable).
		Columns(executionColumns...).
		Values(
			e.ID, e.Name, e.Target, string(e.Outcome), e.Attempts, e.Reports,
			e.LastMessage, e.ErrorMessage, started, finished,
		).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			target = excluded.target,
			outcome = excluded.outcome,
			attempts = excluded.attempts,
			reports = excluded.reports,
			last_message = excluded.last_message,
			error_message = excluded.error_message,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`).
		PlaceholderFormat(ph)
}

func selectExecutions(ph sq.PlaceholderFormat) sq.SelectBuilder {
	return sq.Select(executionColumns...).From(executionsTable).PlaceholderFormat(ph)
}

// applyFilter adds the WHERE clause shared by List and its count query.
func applyFilter(b sq.SelectBuilder, f domain.ListFilter) sq.SelectBuilder {
	if f.Outcome != nil {
		b = b.Where(sq.Eq{"outcome": string(*f.Outcome)})
	}
	if f.Name != "" {
		b = b.Where(sq.Eq{"name": f.Name})
	}
	return b
}

func listExecutions(ph sq.PlaceholderFormat, f domain.ListFilter) sq.SelectBuilder {
	f = normalize(f)
	return applyFilter(selectExecutions(ph), f).
		OrderBy("finished_at DESC").
		Limit(uint64(f.Limit)).
		Offset(uint64((f.Page - 1) * f.Limit))
}

func countExecutions(ph sq.PlaceholderFormat, f domain.ListFilter) sq.SelectBuilder {
	return applyFilter(sq.Select("COUNT(*)").From(executionsTable).PlaceholderFormat(ph), f)
}

func normalize(f domain.ListFilter) domain.ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}
	return f
}
