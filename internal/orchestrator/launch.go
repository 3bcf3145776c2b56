package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/engine"
	"github.com/shaiso/Relay/internal/repo"
	"github.com/shaiso/Relay/internal/telemetry"
)

// Режимы запуска (метка метрики runs_launched).
const (
	modeSingle = "single"
	modePinned = "pinned"
	modeFanout = "fanout"
)

// LaunchRequest — параметры запуска workflow.
type LaunchRequest struct {
	TriggeredBy domain.TriggeredBy
	UserID      string
}

// LaunchResult — результат запуска.
//
// Без fan-out Run — единственный run, Children пуст.
// При fan-out Run — родитель (сразу SUCCESS), Children — по run на worker'а.
type LaunchResult struct {
	Run      *domain.WorkflowExecution   `json:"run"`
	Children []*domain.WorkflowExecution `json:"children"`
}

// Launch запускает workflow.
//
// Алгоритм:
//  1. Граф workflow декодируется и проверяется до любых записей
//  2. Создаётся run в RUNNING
//  3. Если у workflow есть теги, считаются онлайн worker'ы с пересекающимися тегами:
//     один — run закрепляется за ним; больше одного — fan-out по дочернему run
//     на каждого, родитель сразу SUCCESS
//  4. Для стартовых узлов (без входящих рёбер) создаются executions
func (o *Orchestrator) Launch(ctx context.Context, workflowID uuid.UUID, req LaunchRequest) (*LaunchResult, error) {
	wf, graph, err := o.loadGraph(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if err := o.checkTasks(ctx, graph); err != nil {
		return nil, err
	}

	online, err := o.workers.Online(ctx)
	if err != nil {
		return nil, fmt.Errorf("list online workers: %w", err)
	}

	if req.TriggeredBy == "" {
		req.TriggeredBy = domain.TriggerManual
	}

	var matches []domain.Worker
	if tags := domain.NormalizeTags(wf.Tags); len(tags) > 0 {
		for _, w := range online {
			if domain.TagsIntersect(w.Tags, tags) {
				matches = append(matches, w)
			}
		}
	}

	// Единственный подходящий worker: run закрепляется за ним,
	// executions наследуют закрепление.
	var pinned *uuid.UUID
	if len(matches) == 1 {
		pinned = &matches[0].ID
	}

	run := o.newRun(wf, req, nil, pinned)
	if err := o.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	logger := telemetry.WithRun(o.logger, run.ID.String())
	result := &LaunchResult{Run: run, Children: []*domain.WorkflowExecution{}}

	switch {
	case len(matches) > 1:
		for _, w := range matches {
			child := o.newRun(wf, req, &run.ID, &w.ID)
			if err := o.runs.Create(ctx, child); err != nil {
				return nil, fmt.Errorf("create child run: %w", err)
			}
			started, err := o.start(ctx, child, wf, graph, online)
			if err != nil {
				return nil, err
			}
			result.Children = append(result.Children, started)
		}

		run.MarkCompleted(domain.StatusSuccess, o.now())
		if err := o.runs.Update(ctx, run); err != nil {
			return nil, fmt.Errorf("complete fan-out parent: %w", err)
		}
		telemetry.RunsLaunched.WithLabelValues(modeFanout).Inc()
		telemetry.RunsFinished.WithLabelValues(string(run.Status)).Inc()
		logger.Info("workflow fanned out", "workflow_id", wf.ID, "children", len(result.Children))
		return result, nil

	case len(matches) == 1:
		telemetry.RunsLaunched.WithLabelValues(modePinned).Inc()

	default:
		telemetry.RunsLaunched.WithLabelValues(modeSingle).Inc()
	}

	started, err := o.start(ctx, run, wf, graph, online)
	if err != nil {
		return nil, err
	}
	result.Run = started

	logger.Info("workflow launched",
		"workflow_id", wf.ID,
		"target_worker_id", run.TargetWorkerID,
		"status", started.Status,
	)
	return result, nil
}

// newRun строит run в RUNNING с замороженными именем и версией workflow.
func (o *Orchestrator) newRun(wf *domain.Workflow, req LaunchRequest, parentID, workerID *uuid.UUID) *domain.WorkflowExecution {
	return &domain.WorkflowExecution{
		ID:                uuid.New(),
		WorkflowID:        wf.ID,
		WorkflowName:      wf.Name,
		WorkflowVersion:   wf.Version,
		Status:            domain.StatusRunning,
		TriggeredBy:       req.TriggeredBy,
		UserID:            req.UserID,
		ParentExecutionID: parentID,
		TargetWorkerID:    workerID,
		StartedAt:         o.now(),
	}
}

// start создаёт executions стартовых узлов и пересчитывает статус run.
// Если все стартовые узлы сразу получили NO_WORKER_FOUND, run может
// завершиться тут же.
func (o *Orchestrator) start(ctx context.Context, run *domain.WorkflowExecution, wf *domain.Workflow, graph *engine.Graph, online []domain.Worker) (*domain.WorkflowExecution, error) {
	st := &runState{
		run:          run,
		workflow:     wf,
		graph:        graph,
		byNode:       make(map[string]*domain.TaskExecution),
		online:       online,
		onlineLoaded: true,
	}

	var terminal []string
	for _, node := range graph.StartNodes() {
		e, err := o.createNodeExecution(ctx, st, node, true)
		if err != nil {
			if errors.Is(err, repo.ErrAlreadyExists) {
				continue
			}
			return nil, fmt.Errorf("create start node %s: %w", node.ID, err)
		}
		if e.IsFinished() {
			terminal = append(terminal, node.ID)
		}
	}

	o.propagate(ctx, st, terminal)
	return o.recompute(ctx, st)
}

// checkTasks проверяет, что все task-узлы ссылаются на существующие task.
func (o *Orchestrator) checkTasks(ctx context.Context, graph *engine.Graph) error {
	checked := make(map[uuid.UUID]bool)
	for _, node := range graph.Nodes() {
		if node.Kind != domain.NodeKindTask || checked[node.TaskID] {
			continue
		}
		checked[node.TaskID] = true

		if _, err := o.tasks.GetByID(ctx, node.TaskID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("%w: node %s references unknown task %s", ErrInvalidWorkflow, node.ID, node.TaskID)
			}
			return fmt.Errorf("get task: %w", err)
		}
	}
	return nil
}

// ExecuteRequest — параметры разового запуска task вне workflow.
type ExecuteRequest struct {
	// TargetWorkerID — закрепить за worker'ом.
	TargetWorkerID *uuid.UUID

	// Tags — требуемые теги; пусто — теги самой task.
	Tags []string
}

// ExecuteTask создаёт standalone execution task ("execute now").
func (o *Orchestrator) ExecuteTask(ctx context.Context, taskID uuid.UUID, req ExecuteRequest) (*domain.TaskExecution, error) {
	task, err := o.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	aff := affinity{worker: req.TargetWorkerID, tags: []string{}}
	if aff.worker == nil {
		aff.tags = domain.NormalizeTags(req.Tags)
		if len(aff.tags) == 0 {
			aff.tags = domain.NormalizeTags(task.Tags)
		}
	}

	var online []domain.Worker
	if len(aff.tags) > 0 {
		if online, err = o.workers.Online(ctx); err != nil {
			return nil, fmt.Errorf("list online workers: %w", err)
		}
	}

	e := o.newExecution(task.ID, aff, online)
	if err := o.executions.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	telemetry.ExecutionsCreated.WithLabelValues(string(e.Status), "standalone").Inc()
	o.logger.Info("standalone execution created",
		"execution_id", e.ID,
		"task_id", task.ID,
		"status", e.Status,
	)
	return e, nil
}
