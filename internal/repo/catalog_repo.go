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

// TaskRepo — чтение каталога task.
//
// Таблицу tasks ведёт внешний CRUD API, здесь только чтение.
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `id, name, command, status_mappings, sanity_checks, extract, scope, tags, groups, created_at`

// GetByID возвращает task по ID.
func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

// List возвращает все task.
func (r *TaskRepo) List(ctx context.Context) ([]domain.Task, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var t domain.Task
	var commandJSON, mappingsJSON, checksJSON, extractJSON []byte
	var scope *string

	err := row.Scan(&t.ID, &t.Name, &commandJSON, &mappingsJSON, &checksJSON, &extractJSON,
		&scope, &t.Tags, &t.Groups, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	if err := unmarshalJSON(commandJSON, &t.Command); err != nil {
		return nil, fmt.Errorf("unmarshal command: %w", err)
	}
	if err := unmarshalJSON(mappingsJSON, &t.StatusMappings); err != nil {
		return nil, fmt.Errorf("unmarshal status mappings: %w", err)
	}
	if err := unmarshalJSON(checksJSON, &t.SanityChecks); err != nil {
		return nil, fmt.Errorf("unmarshal sanity checks: %w", err)
	}
	if err := unmarshalJSON(extractJSON, &t.Extract); err != nil {
		return nil, fmt.Errorf("unmarshal extract: %w", err)
	}
	if scope != nil {
		t.Scope = *scope
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	return &t, nil
}

// WorkflowRepo — чтение определений workflow.
type WorkflowRepo struct {
	pool *pgxpool.Pool
}

// NewWorkflowRepo создаёт новый WorkflowRepo.
func NewWorkflowRepo(pool *pgxpool.Pool) *WorkflowRepo {
	return &WorkflowRepo{pool: pool}
}

const workflowColumns = `id, name, version, tags, nodes, edges, created_at, updated_at`

// GetByID возвращает workflow по ID.
//
// nodes/edges возвращаются как есть: декодирование в граф
// выполняет engine.ParseGraph.
func (r *WorkflowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	return scanWorkflow(r.pool.QueryRow(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id))
}

// List возвращает все workflow.
func (r *WorkflowRepo) List(ctx context.Context) ([]domain.Workflow, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+workflowColumns+` FROM workflows ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []domain.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, *wf)
	}
	return workflows, rows.Err()
}

func scanWorkflow(row pgx.Row) (*domain.Workflow, error) {
	var wf domain.Workflow
	var nodes, edges []byte

	err := row.Scan(&wf.ID, &wf.Name, &wf.Version, &wf.Tags, &nodes, &edges, &wf.CreatedAt, &wf.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}

	wf.Nodes = nodes
	wf.Edges = edges
	if wf.Tags == nil {
		wf.Tags = []string{}
	}
	return &wf, nil
}
