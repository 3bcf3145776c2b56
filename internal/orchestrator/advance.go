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

// Advance продвигает run после завершения узла nodeID.
//
// Для каждого исходящего ребра узла кандидат (target) проверяется:
//  1. fan-in: у всех предшественников кандидата есть завершённый execution
//  2. условие хотя бы одного входящего ребра совпадает со статусом его источника;
//     проверяется не только ребро от nodeID, поэтому узел с несколькими
//     входами запускается, даже если условие ребра от nodeID не совпало
//  3. ни один предшественник со стратегией SUCCESS_REQUIRED не завершился
//     не в SUCCESS
//  4. у кандидата ещё нет execution в этом run
//
// Ошибка на одном кандидате логируется и не мешает остальным.
// В конце статус run пересчитывается всегда.
func (o *Orchestrator) Advance(ctx context.Context, runID uuid.UUID, nodeID string) error {
	run, err := o.getRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.IsFinished() {
		o.logger.Debug("run already finished, not advancing", "run_id", runID, "node_id", nodeID)
		return nil
	}

	st, err := o.newRunState(ctx, run)
	if err != nil {
		return err
	}

	o.propagate(ctx, st, []string{nodeID})
	_, err = o.recompute(ctx, st)
	return err
}

// RecomputeStatus пересчитывает агрегированный статус run.
func (o *Orchestrator) RecomputeStatus(ctx context.Context, runID uuid.UUID) (*domain.WorkflowExecution, error) {
	run, err := o.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.IsFinished() {
		return run, nil
	}

	st, err := o.newRunState(ctx, run)
	if err != nil {
		return nil, err
	}
	return o.recompute(ctx, st)
}

// propagate проверяет исходящие рёбра завершённых узлов from.
// Узлы, созданные сразу в финальном статусе (NO_WORKER_FOUND),
// обрабатываются так же, как завершённые. Возвращает true, если
// появился хотя бы один новый execution (созданный здесь или
// параллельным вызовом).
func (o *Orchestrator) propagate(ctx context.Context, st *runState, from []string) bool {
	if st.graph == nil {
		return false
	}

	changed := false
	queue := append([]string(nil), from...)
	visited := make(map[string]bool)

	for len(queue) > 0 {
		nodeID := queue[0]
		queue = queue[1:]
		if visited[nodeID] {
			continue
		}
		visited[nodeID] = true

		src := st.byNode[nodeID]
		if src == nil || !src.IsFinished() {
			continue
		}

		for _, edge := range st.graph.Outgoing(nodeID) {
			created, err := o.trigger(ctx, st, edge.Target)
			switch {
			case errors.Is(err, repo.ErrAlreadyExists):
				changed = true
			case err != nil:
				o.logger.Error("failed to trigger node",
					"run_id", st.run.ID,
					"source", nodeID,
					"node_id", edge.Target,
					"error", err,
				)
			case created != nil:
				changed = true
				if created.IsFinished() {
					queue = append(queue, created.NodeID)
				}
			}
		}
	}
	return changed
}

// trigger создаёт execution узла target, если все проверки пройдены.
// Возвращает nil без ошибки, если узел пока (или вообще) не должен стартовать.
func (o *Orchestrator) trigger(ctx context.Context, st *runState, target string) (*domain.TaskExecution, error) {
	if _, exists := st.byNode[target]; exists {
		return nil, nil
	}

	node := st.graph.Node(target)
	if node == nil {
		return nil, fmt.Errorf("edge target %q is not in graph", target)
	}

	// fan-in
	preds := st.graph.Predecessors(target)
	for _, p := range preds {
		e := st.byNode[p]
		if e == nil || !e.IsFinished() {
			return nil, nil
		}
	}

	// Условие проверяется по всем входящим рёбрам, а не только по
	// последнему пройденному: результат не зависит от порядка
	// завершения предшественников.
	matched := false
	for _, in := range st.graph.Incoming(target) {
		if in.Condition.Matches(st.byNode[in.Source].Status) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, nil
	}

	for _, p := range preds {
		pred := st.graph.Node(p)
		if pred == nil {
			continue
		}
		if pred.FailureStrategy == domain.StrategySuccessRequired && st.byNode[p].Status != domain.StatusSuccess {
			o.logger.Debug("node blocked by failed predecessor",
				"run_id", st.run.ID,
				"node_id", target,
				"predecessor", p,
				"status", st.byNode[p].Status,
			)
			return nil, nil
		}
	}

	return o.createNodeExecution(ctx, st, node, false)
}

// recompute вычисляет агрегат по executions run и записывает его.
//
// Прежде чем завершить run, ещё раз проверяются рёбра всех
// завершённых узлов: узел, который запускает параллельный вызов,
// должен успеть попасть в агрегат.
func (o *Orchestrator) recompute(ctx context.Context, st *runState) (*domain.WorkflowExecution, error) {
	run := st.run
	if run.IsFinished() {
		return run, nil
	}

	execs, err := o.refresh(ctx, st)
	if err != nil {
		return nil, err
	}
	if len(execs) == 0 {
		return run, nil
	}

	status, done := aggregate(execs)
	if done {
		var finished []string
		for id, e := range st.byNode {
			if e.IsFinished() {
				finished = append(finished, id)
			}
		}
		if o.propagate(ctx, st, finished) {
			if execs, err = o.refresh(ctx, st); err != nil {
				return nil, err
			}
			status, done = aggregate(execs)
		}
	}

	if status == run.Status && !done {
		return run, nil
	}

	run.Status = status
	if done {
		run.MarkCompleted(status, o.now())
	}

	if err := o.runs.Update(ctx, run); err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			// run завершили параллельно (terminate, watchdog или другой recompute)
			return o.getRun(ctx, run.ID)
		}
		return nil, fmt.Errorf("update run status: %w", err)
	}

	if done {
		telemetry.RunsFinished.WithLabelValues(string(status)).Inc()
		o.logger.Info("run finished",
			"run_id", run.ID,
			"workflow_id", run.WorkflowID,
			"status", status,
			"duration_ms", run.DurationMs,
		)
		o.publishRunFinished(ctx, run)
	}
	return run, nil
}

func aggregate(execs []domain.TaskExecution) (domain.Status, bool) {
	statuses := make([]domain.Status, len(execs))
	for i := range execs {
		statuses[i] = execs[i].Status
	}
	return domain.Aggregate(statuses)
}

func (o *Orchestrator) getRun(ctx context.Context, runID uuid.UUID) (*domain.WorkflowExecution, error) {
	run, err := o.runs.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}
