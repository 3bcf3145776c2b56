package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/engine"
	"github.com/shaiso/Relay/internal/repo"
	"github.com/shaiso/Relay/internal/telemetry"
)

// runState — снимок run на время одной операции.
//
// Собирается заново при каждом вызове: run, граф workflow и executions,
// уже созданные в run. Онлайн worker'ы читаются лениво, только если
// нужно создать execution.
type runState struct {
	run      *domain.WorkflowExecution
	workflow *domain.Workflow
	graph    *engine.Graph

	// byNode — execution каждого узла (не больше одного на узел).
	byNode map[string]*domain.TaskExecution

	online       []domain.Worker
	onlineLoaded bool
}

// loadGraph читает workflow и строит граф.
func (o *Orchestrator) loadGraph(ctx context.Context, workflowID uuid.UUID) (*domain.Workflow, *engine.Graph, error) {
	wf, err := o.workflows.GetByID(ctx, workflowID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
		}
		return nil, nil, fmt.Errorf("get workflow: %w", err)
	}

	graph, err := engine.ParseGraph(wf.Nodes, wf.Edges)
	if err != nil {
		return wf, nil, fmt.Errorf("%w: %w", ErrInvalidWorkflow, err)
	}
	return wf, graph, nil
}

// newRunState собирает снимок run. Ошибка графа не фатальна:
// state.graph остаётся nil, а агрегат всё равно пересчитывается.
func (o *Orchestrator) newRunState(ctx context.Context, run *domain.WorkflowExecution) (*runState, error) {
	st := &runState{run: run}

	wf, graph, err := o.loadGraph(ctx, run.WorkflowID)
	if err != nil {
		o.logger.Error("failed to load workflow graph",
			"run_id", run.ID,
			"workflow_id", run.WorkflowID,
			"error", err,
		)
	}
	st.workflow = wf
	st.graph = graph

	if _, err := o.refresh(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// refresh перечитывает executions run.
func (o *Orchestrator) refresh(ctx context.Context, st *runState) ([]domain.TaskExecution, error) {
	execs, err := o.executions.ListByRunID(ctx, st.run.ID)
	if err != nil {
		return nil, fmt.Errorf("list run executions: %w", err)
	}

	st.byNode = make(map[string]*domain.TaskExecution, len(execs))
	for i := range execs {
		if execs[i].NodeID != "" {
			st.byNode[execs[i].NodeID] = &execs[i]
		}
	}
	return execs, nil
}

func (o *Orchestrator) onlineWorkers(ctx context.Context, st *runState) ([]domain.Worker, error) {
	if st.onlineLoaded {
		return st.online, nil
	}
	online, err := o.workers.Online(ctx)
	if err != nil {
		return nil, fmt.Errorf("list online workers: %w", err)
	}
	st.online = online
	st.onlineLoaded = true
	return online, nil
}

// affinity — куда направить execution.
type affinity struct {
	worker *uuid.UUID
	tags   []string
}

// resolveAffinity выбирает адресата execution узла. Первое совпадение
// побеждает: worker узла, worker дочернего run для стартовых узлов,
// теги узла, worker run, теги workflow, иначе execution глобальный.
//
// Стартовые узлы дочернего run fan-out закрепляются за его worker'ом
// даже при собственных тегах: каждая копия выполняется на своём worker'е.
func resolveAffinity(node *domain.Node, run *domain.WorkflowExecution, wf *domain.Workflow, start bool) affinity {
	switch {
	case node != nil && node.TargetWorkerID != nil:
		return affinity{worker: node.TargetWorkerID, tags: []string{}}
	case start && run != nil && run.ParentExecutionID != nil && run.TargetWorkerID != nil:
		return affinity{worker: run.TargetWorkerID, tags: []string{}}
	case node != nil && len(domain.NormalizeTags(node.TargetTags)) > 0:
		return affinity{tags: domain.NormalizeTags(node.TargetTags)}
	case run != nil && run.TargetWorkerID != nil:
		return affinity{worker: run.TargetWorkerID, tags: []string{}}
	case wf != nil:
		return affinity{tags: domain.NormalizeTags(wf.Tags)}
	default:
		return affinity{tags: []string{}}
	}
}

// satisfiable возвращает true, если хотя бы один онлайн worker
// покрывает теги. Тот же предикат применяет dispatch при выдаче.
func satisfiable(tags []string, online []domain.Worker) bool {
	for i := range online {
		if domain.TagsSatisfy(online[i].Tags, tags) {
			return true
		}
	}
	return false
}

// newExecution строит execution с начальным статусом: PENDING или
// NO_WORKER_FOUND, если теги непусты и их не покрывает ни один онлайн worker.
func (o *Orchestrator) newExecution(taskID uuid.UUID, aff affinity, online []domain.Worker) *domain.TaskExecution {
	now := o.now()
	e := &domain.TaskExecution{
		ID:             uuid.New(),
		TaskID:         taskID,
		Status:         domain.StatusPending,
		TargetWorkerID: aff.worker,
		TargetTags:     aff.tags,
		CreatedAt:      now,
	}
	if e.TargetTags == nil {
		e.TargetTags = []string{}
	}

	if aff.worker == nil && len(aff.tags) > 0 && !satisfiable(aff.tags, online) {
		e.MarkFinished(domain.StatusNoWorkerFound,
			fmt.Sprintf("no online worker has tags [%s]", strings.Join(aff.tags, ", ")), now)
	}
	return e
}

// createNodeExecution создаёт execution узла в run; start — узел стартовый.
// repo.ErrAlreadyExists означает, что узел уже запущен другим вызовом.
func (o *Orchestrator) createNodeExecution(ctx context.Context, st *runState, node *domain.Node, start bool) (*domain.TaskExecution, error) {
	online, err := o.onlineWorkers(ctx, st)
	if err != nil {
		return nil, err
	}

	taskID := node.TaskID
	if node.Kind == domain.NodeKindVariableUtility {
		taskID = domain.SystemVariableTaskID
	}

	e := o.newExecution(taskID, resolveAffinity(node, st.run, st.workflow, start), online)
	runID := st.run.ID
	e.WorkflowExecutionID = &runID
	e.NodeID = node.ID
	e.Params = node.Params

	if err := o.executions.Create(ctx, e); err != nil {
		return nil, err
	}

	st.byNode[node.ID] = e
	telemetry.ExecutionsCreated.WithLabelValues(string(e.Status), "workflow").Inc()
	o.logger.Info("node execution created",
		"run_id", runID,
		"node_id", node.ID,
		"execution_id", e.ID,
		"status", e.Status,
		"target_worker_id", e.TargetWorkerID,
		"target_tags", e.TargetTags,
	)
	return e, nil
}
