package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/repo"
	"github.com/shaiso/Relay/internal/telemetry"
)

// DefaultTerminateReason — причина, если оператор её не указал.
const DefaultTerminateReason = "terminated by operator"

// Terminate принудительно завершает run.
//
// Run переходит в FAILED, все его незавершённые executions — в FAILED.
// Worker'ы не уведомляются: поздние отчёты получат ErrAlreadyTerminal.
// Для родителя fan-out завершаются незавершённые дочерние runs.
func (o *Orchestrator) Terminate(ctx context.Context, runID uuid.UUID, reason string) (*domain.WorkflowExecution, error) {
	if reason == "" {
		reason = DefaultTerminateReason
	}

	run, err := o.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run.IsFinished() {
		terminated, err := o.terminateChildren(ctx, run, reason)
		if err != nil {
			return nil, err
		}
		if terminated == 0 {
			return nil, ErrRunFinished
		}
		return run, nil
	}

	run.MarkFailed(reason, o.now())
	if err := o.runs.Update(ctx, run); err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			return nil, ErrRunFinished
		}
		return nil, fmt.Errorf("update run: %w", err)
	}

	failed, err := o.executions.FailActiveByRunID(ctx, run.ID, reason, o.now())
	if err != nil {
		return nil, fmt.Errorf("fail run executions: %w", err)
	}

	telemetry.RunsFinished.WithLabelValues(string(run.Status)).Inc()
	o.logger.Warn("run terminated",
		"run_id", run.ID,
		"reason", reason,
		"executions_failed", failed,
	)
	o.publishRunFinished(ctx, run)
	return run, nil
}

func (o *Orchestrator) terminateChildren(ctx context.Context, parent *domain.WorkflowExecution, reason string) (int, error) {
	children, err := o.runs.ListChildren(ctx, parent.ID)
	if err != nil {
		return 0, fmt.Errorf("list child runs: %w", err)
	}

	terminated := 0
	for _, child := range children {
		if child.IsFinished() {
			continue
		}
		if _, err := o.Terminate(ctx, child.ID, reason); err != nil {
			if errors.Is(err, ErrRunFinished) {
				continue
			}
			return terminated, err
		}
		terminated++
	}
	return terminated, nil
}
