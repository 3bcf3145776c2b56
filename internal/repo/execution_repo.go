package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Relay/internal/domain"
)

const executionColumns = `
	id, task_id, workflow_execution_id, node_id, status, target_worker_id, target_tags,
	worker_id, params, input, result, error, created_at, started_at, completed_at, duration_ms
`

// ExecutionRepo — репозиторий task executions.
type ExecutionRepo struct {
	pool *pgxpool.Pool
}

// NewExecutionRepo создаёт новый ExecutionRepo.
func NewExecutionRepo(pool *pgxpool.Pool) *ExecutionRepo {
	return &ExecutionRepo{pool: pool}
}

// Create создаёт execution.
//
// Уникальность (workflow_execution_id, node_id) обеспечивает индекс:
// при гонке двух предшественников выигрывает один INSERT,
// второй получает ErrAlreadyExists.
func (r *ExecutionRepo) Create(ctx context.Context, e *domain.TaskExecution) error {
	paramsJSON, err := marshalJSON(e.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	resultJSON, err := marshalJSON(e.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	query := `
		INSERT INTO task_executions (id, task_id, workflow_execution_id, node_id, status,
		                             target_worker_id, target_tags, params, result, error,
		                             created_at, completed_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (workflow_execution_id, node_id) DO NOTHING
	`
	tag, err := r.pool.Exec(ctx, query,
		e.ID,
		e.TaskID,
		e.WorkflowExecutionID,
		nullString(e.NodeID),
		e.Status,
		e.TargetWorkerID,
		tagsOrEmpty(e.TargetTags),
		paramsJSON,
		resultJSON,
		nullString(e.Error),
		e.CreatedAt,
		e.CompletedAt,
		e.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// GetByID возвращает execution по ID.
func (r *ExecutionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.TaskExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM task_executions WHERE id = $1`
	return scanExecution(r.pool.QueryRow(ctx, query, id))
}

// ListByRunID возвращает все executions run.
func (r *ExecutionRepo) ListByRunID(ctx context.Context, runID uuid.UUID) ([]domain.TaskExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM task_executions
		WHERE workflow_execution_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list executions by run: %w", err)
	}
	return collectExecutions(rows)
}

// ListCandidates возвращает PENDING executions, подходящие worker'у.
// limit <= 0 — без ограничения.
//
// Фильтр по тегам здесь грубый (пересечение). Точную проверку
// выполняет dispatch.Router.
func (r *ExecutionRepo) ListCandidates(ctx context.Context, workerID uuid.UUID, tags []string, limit int) ([]domain.TaskExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM task_executions
		WHERE status = 'PENDING'
		  AND (target_worker_id = $1
		       OR (target_worker_id IS NULL AND cardinality(target_tags) = 0)
		       OR (target_worker_id IS NULL AND target_tags && $2::text[]))
		ORDER BY created_at ASC, id ASC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, workerID, tagsOrEmpty(tags), limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	return collectExecutions(rows)
}

// Claim атомарно захватывает execution.
func (r *ExecutionRepo) Claim(ctx context.Context, id, workerID uuid.UUID, now time.Time) (*domain.TaskExecution, error) {
	query := `
		UPDATE task_executions
		SET status = 'RUNNING', worker_id = $2, started_at = $3
		WHERE id = $1
		  AND status = 'PENDING'
		  AND (target_worker_id IS NULL OR target_worker_id = $2)
		RETURNING ` + executionColumns

	e, err := scanExecution(r.pool.QueryRow(ctx, query, id, workerID, now))
	if errors.Is(err, ErrNotFound) {
		return nil, r.missOrConflict(ctx, id)
	}
	return e, err
}

// Finish записывает финальное состояние execution.
func (r *ExecutionRepo) Finish(ctx context.Context, e *domain.TaskExecution) error {
	resultJSON, err := marshalJSON(e.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	inputJSON, err := marshalJSON(e.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}

	query := `
		UPDATE task_executions
		SET status = $2, result = $3, input = $4, error = $5,
		    completed_at = $6, duration_ms = $7
		WHERE id = $1 AND status IN ('PENDING', 'RUNNING')
	`
	tag, err := r.pool.Exec(ctx, query,
		e.ID,
		e.Status,
		resultJSON,
		inputJSON,
		nullString(e.Error),
		e.CompletedAt,
		e.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("finish execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, e.ID)
	}
	return nil
}

// ListActive возвращает PENDING/RUNNING executions, самые старые первыми.
// limit <= 0 — без ограничения.
func (r *ExecutionRepo) ListActive(ctx context.Context, limit int) ([]domain.TaskExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM task_executions
		WHERE status IN ('PENDING', 'RUNNING')
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("list active executions: %w", err)
	}
	return collectExecutions(rows)
}

// FailActiveByRunID переводит все активные executions run в FAILED.
func (r *ExecutionRepo) FailActiveByRunID(ctx context.Context, runID uuid.UUID, reason string, now time.Time) (int64, error) {
	query := `
		UPDATE task_executions
		SET status = 'FAILED', error = $2, completed_at = $3,
		    duration_ms = (EXTRACT(EPOCH FROM ($3 - COALESCE(started_at, created_at))) * 1000)::bigint
		WHERE workflow_execution_id = $1 AND status IN ('PENDING', 'RUNNING')
	`
	tag, err := r.pool.Exec(ctx, query, runID, reason, now)
	if err != nil {
		return 0, fmt.Errorf("fail active executions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// missOrConflict отличает отсутствующий execution от неподходящего состояния.
func (r *ExecutionRepo) missOrConflict(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM task_executions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check execution: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidState
}

// --- Helpers ---

func scanExecution(row pgx.Row) (*domain.TaskExecution, error) {
	var e domain.TaskExecution
	var nodeID, execError *string
	var paramsJSON, inputJSON, resultJSON []byte

	err := row.Scan(
		&e.ID,
		&e.TaskID,
		&e.WorkflowExecutionID,
		&nodeID,
		&e.Status,
		&e.TargetWorkerID,
		&e.TargetTags,
		&e.WorkerID,
		&paramsJSON,
		&inputJSON,
		&resultJSON,
		&execError,
		&e.CreatedAt,
		&e.StartedAt,
		&e.CompletedAt,
		&e.DurationMs,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	if nodeID != nil {
		e.NodeID = *nodeID
	}
	if execError != nil {
		e.Error = *execError
	}
	if err := unmarshalJSON(paramsJSON, &e.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	if err := unmarshalJSON(inputJSON, &e.Input); err != nil {
		return nil, fmt.Errorf("unmarshal input: %w", err)
	}
	if err := unmarshalJSON(resultJSON, &e.Result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	if e.TargetTags == nil {
		e.TargetTags = []string{}
	}
	return &e, nil
}

func collectExecutions(rows pgx.Rows) ([]domain.TaskExecution, error) {
	defer rows.Close()

	var out []domain.TaskExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// marshalJSON возвращает nil для nil-значений, чтобы в БД попал NULL.
func marshalJSON[T any](v T) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}

func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// limitOrAll возвращает nil для limit <= 0: LIMIT NULL в postgres
// равносилен LIMIT ALL, а LIMIT 0 не вернул бы ни одной строки.
func limitOrAll(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
