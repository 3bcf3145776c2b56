package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Relay/internal/domain"
)

const runColumns = `
	id, workflow_id, workflow_name, workflow_version, status, triggered_by, user_id,
	parent_execution_id, target_worker_id, error, started_at, completed_at, duration_ms
`

// RunRepo — репозиторий workflow executions.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Create создаёт run.
func (r *RunRepo) Create(ctx context.Context, run *domain.WorkflowExecution) error {
	query := `
		INSERT INTO workflow_executions (id, workflow_id, workflow_name, workflow_version, status,
		                                 triggered_by, user_id, parent_execution_id, target_worker_id,
		                                 error, started_at, completed_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.pool.Exec(ctx, query,
		run.ID,
		run.WorkflowID,
		run.WorkflowName,
		run.WorkflowVersion,
		run.Status,
		run.TriggeredBy,
		nullString(run.UserID),
		run.ParentExecutionID,
		run.TargetWorkerID,
		nullString(run.Error),
		run.StartedAt,
		run.CompletedAt,
		run.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowExecution, error) {
	query := `SELECT ` + runColumns + ` FROM workflow_executions WHERE id = $1`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// List возвращает список runs с фильтрацией.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.WorkflowExecution, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	query := `
		SELECT ` + runColumns + `
		FROM workflow_executions
		WHERE ($1::uuid IS NULL OR workflow_id = $1)
		  AND ($2::uuid IS NULL OR parent_execution_id = $2)
		  AND ($3::text IS NULL OR status = $3)
		ORDER BY started_at DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.pool.Query(ctx, query,
		nullUUID(filter.WorkflowID),
		nullUUID(filter.ParentID),
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return collectRuns(rows)
}

// ListChildren возвращает дочерние runs fan-out.
func (r *RunRepo) ListChildren(ctx context.Context, parentID uuid.UUID) ([]domain.WorkflowExecution, error) {
	query := `
		SELECT ` + runColumns + `
		FROM workflow_executions
		WHERE parent_execution_id = $1
		ORDER BY started_at ASC, id ASC
	`
	rows, err := r.pool.Query(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("list child runs: %w", err)
	}
	return collectRuns(rows)
}

// Update обновляет статус незавершённого run.
func (r *RunRepo) Update(ctx context.Context, run *domain.WorkflowExecution) error {
	query := `
		UPDATE workflow_executions
		SET status = $2, completed_at = $3, duration_ms = $4, error = $5
		WHERE id = $1 AND completed_at IS NULL
	`
	tag, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		run.CompletedAt,
		run.DurationMs,
		nullString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if _, err := r.GetByID(ctx, run.ID); err != nil {
		return err
	}
	return ErrInvalidState
}

// --- Helpers ---

func scanRun(row pgx.Row) (*domain.WorkflowExecution, error) {
	var run domain.WorkflowExecution
	var userID, runError *string

	err := row.Scan(
		&run.ID,
		&run.WorkflowID,
		&run.WorkflowName,
		&run.WorkflowVersion,
		&run.Status,
		&run.TriggeredBy,
		&userID,
		&run.ParentExecutionID,
		&run.TargetWorkerID,
		&runError,
		&run.StartedAt,
		&run.CompletedAt,
		&run.DurationMs,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if userID != nil {
		run.UserID = *userID
	}
	if runError != nil {
		run.Error = *runError
	}
	return &run, nil
}

func collectRuns(rows pgx.Rows) ([]domain.WorkflowExecution, error) {
	defer rows.Close()

	var runs []domain.WorkflowExecution
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}
