package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/evaluation"
	"github.com/shaiso/Relay/internal/repo"
	"github.com/shaiso/Relay/internal/telemetry"
)

// Complete принимает отчёт worker'а о выполнении.
//
// Отчёт оценивается (evaluation.Evaluate), execution завершается
// условным обновлением, и, если execution принадлежит run, run
// продвигается дальше. Отчёт для уже завершённого execution
// (terminate, watchdog, повторная доставка) ничего не меняет
// и возвращает ErrAlreadyTerminal.
func (o *Orchestrator) Complete(ctx context.Context, executionID uuid.UUID, report domain.Report) (*domain.TaskExecution, error) {
	e, err := o.executions.GetByID(ctx, executionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	if e.IsFinished() {
		return nil, ErrAlreadyTerminal
	}

	logger := telemetry.WithExecution(o.logger, e.ID.String())

	outcome := evaluation.Evaluate(evaluation.Input{
		Task:     o.taskFor(ctx, e),
		Report:   report,
		Defaults: o.statusDefaults(ctx),
		Override: o.overrideFor(ctx, e),
	})

	result := report.Result
	if result == nil && len(outcome.Checks) > 0 {
		result = &domain.ExecutionResult{}
	}
	if result != nil {
		result.Checks = outcome.Checks
	}

	e.Result = result
	e.Input = report.Input
	e.MarkFinished(outcome.Status, outcome.Reason, o.now())

	if err := o.executions.Finish(ctx, e); err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			return nil, ErrAlreadyTerminal
		}
		return nil, fmt.Errorf("finish execution: %w", err)
	}

	telemetry.ExecutionsCompleted.WithLabelValues(string(e.Status)).Inc()
	telemetry.ExecutionDuration.WithLabelValues(string(e.Status)).Observe(float64(e.DurationMs) / 1000)
	logger.Info("execution completed",
		"task_id", e.TaskID,
		"status", e.Status,
		"duration_ms", e.DurationMs,
		"reason", e.Error,
	)
	o.publishCompleted(ctx, e)

	if e.BelongsToRun() {
		if err := o.Advance(ctx, *e.WorkflowExecutionID, e.NodeID); err != nil {
			// execution уже завершён; run догонит следующий Advance или watchdog
			logger.Error("failed to advance run",
				"run_id", e.WorkflowExecutionID,
				"node_id", e.NodeID,
				"error", err,
			)
		}
	}
	return e, nil
}

// taskFor возвращает определение task execution.
// Nil, если task удалён: оценка пойдёт по системным умолчаниям.
func (o *Orchestrator) taskFor(ctx context.Context, e *domain.TaskExecution) *domain.Task {
	if e.TaskID == domain.SystemVariableTaskID {
		return domain.SystemVariableTask()
	}

	task, err := o.tasks.GetByID(ctx, e.TaskID)
	if err != nil {
		o.logger.Warn("task definition unavailable, using defaults",
			"execution_id", e.ID,
			"task_id", e.TaskID,
			"error", err,
		)
		return nil
	}
	return task
}

// statusDefaults читает снимок шаблонов кодов. При ошибке — встроенные.
func (o *Orchestrator) statusDefaults(ctx context.Context) domain.StatusDefaults {
	defaults, err := o.settings.StatusDefaults(ctx)
	if err != nil {
		o.logger.Warn("failed to read status defaults, using built-in", "error", err)
		return domain.DefaultStatusDefaults()
	}
	return defaults
}

// overrideFor возвращает failureStatusOverride узла execution.
func (o *Orchestrator) overrideFor(ctx context.Context, e *domain.TaskExecution) domain.Status {
	if !e.BelongsToRun() || e.NodeID == "" {
		return ""
	}

	run, err := o.runs.GetByID(ctx, *e.WorkflowExecutionID)
	if err != nil {
		o.logger.Warn("run unavailable for override lookup", "execution_id", e.ID, "error", err)
		return ""
	}

	_, graph, err := o.loadGraph(ctx, run.WorkflowID)
	if err != nil {
		o.logger.Warn("workflow unavailable for override lookup", "execution_id", e.ID, "error", err)
		return ""
	}

	if node := graph.Node(e.NodeID); node != nil {
		return node.FailureStatusOverride
	}
	return ""
}
