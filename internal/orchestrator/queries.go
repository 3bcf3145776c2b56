package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/repo"
)

// Чтение состояния для API и CLI.

// GetRun возвращает run по ID.
func (o *Orchestrator) GetRun(ctx context.Context, runID uuid.UUID) (*domain.WorkflowExecution, error) {
	return o.getRun(ctx, runID)
}

// ListRuns возвращает runs по фильтру, новые первыми.
func (o *Orchestrator) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.WorkflowExecution, error) {
	runs, err := o.runs.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// RunExecutions возвращает executions run в порядке создания.
func (o *Orchestrator) RunExecutions(ctx context.Context, runID uuid.UUID) ([]domain.TaskExecution, error) {
	if _, err := o.getRun(ctx, runID); err != nil {
		return nil, err
	}

	execs, err := o.executions.ListByRunID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list run executions: %w", err)
	}
	return execs, nil
}

// GetExecution возвращает execution по ID.
func (o *Orchestrator) GetExecution(ctx context.Context, executionID uuid.UUID) (*domain.TaskExecution, error) {
	e, err := o.executions.GetByID(ctx, executionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return e, nil
}
