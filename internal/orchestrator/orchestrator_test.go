package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/engine"
	"github.com/shaiso/Relay/internal/registry"
	"github.com/shaiso/Relay/internal/repo"
	"github.com/shaiso/Relay/internal/repo/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var (
	t0            = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repoFilterAll = repo.RunFilter{}
)

// tester — общий интерфейс *testing.T и *rapid.T.
type tester interface {
	require.TestingT
	Helper()
}

type recorder struct {
	mu        sync.Mutex
	completed []uuid.UUID
	finished  []domain.Status
}

func (r *recorder) PublishExecutionCompleted(_ context.Context, e *domain.TaskExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, e.ID)
	return nil
}

func (r *recorder) PublishRunFinished(_ context.Context, run *domain.WorkflowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, run.Status)
	return nil
}

type fixture struct {
	store  *memory.Store
	orch   *Orchestrator
	events *recorder
	task   domain.Task
}

func newFixture() *fixture {
	store := memory.New()
	task := domain.Task{ID: uuid.New(), Name: "http-check", Tags: []string{}}
	store.PutTask(task)

	now := func() time.Time { return t0 }
	events := &recorder{}
	reg := registry.New(registry.Config{Workers: store.Workers(), Now: now})

	return &fixture{
		store:  store,
		events: events,
		task:   task,
		orch: New(Config{
			Runs:       store.Runs(),
			Executions: store.Executions(),
			Tasks:      store.Tasks(),
			Workflows:  store.Workflows(),
			Settings:   store.Settings(),
			Workers:    reg,
			Events:     events,
			Now:        now,
		}),
	}
}

func (f *fixture) worker(hostname string, tags ...string) domain.Worker {
	w := domain.Worker{
		ID:       uuid.New(),
		Hostname: hostname,
		Tags:     tags,
		Status:   domain.WorkerStatusOnline,
		LastSeen: t0,
	}
	f.store.PutWorker(w)
	return w
}

// node — task-узел; kv — дополнительные поля узла парами ключ/значение.
func (f *fixture) node(id string, kv ...any) map[string]any {
	m := map[string]any{"id": id, "task_id": f.task.ID.String()}
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1]
	}
	return m
}

func edge(source, target string, condition ...string) map[string]any {
	m := map[string]any{"source": source, "target": target}
	if len(condition) > 0 {
		m["condition"] = condition[0]
	}
	return m
}

func (f *fixture) workflow(t tester, tags []string, nodes, edges []map[string]any) uuid.UUID {
	t.Helper()
	nb, err := json.Marshal(nodes)
	require.NoError(t, err)
	eb, err := json.Marshal(edges)
	require.NoError(t, err)

	wf := domain.Workflow{
		ID:      uuid.New(),
		Name:    "checkout-probe",
		Version: 3,
		Tags:    tags,
		Nodes:   nb,
		Edges:   eb,
	}
	f.store.PutWorkflow(wf)
	return wf.ID
}

func (f *fixture) launch(t tester, workflowID uuid.UUID) *LaunchResult {
	t.Helper()
	res, err := f.orch.Launch(context.Background(), workflowID, LaunchRequest{TriggeredBy: domain.TriggerAPI})
	require.NoError(t, err)
	return res
}

func (f *fixture) exec(t tester, runID uuid.UUID, node string) *domain.TaskExecution {
	t.Helper()
	execs, err := f.store.Executions().ListByRunID(context.Background(), runID)
	require.NoError(t, err)
	for i := range execs {
		if execs[i].NodeID == node {
			return &execs[i]
		}
	}
	return nil
}

func (f *fixture) count(t tester, runID uuid.UUID) int {
	t.Helper()
	execs, err := f.store.Executions().ListByRunID(context.Background(), runID)
	require.NoError(t, err)
	return len(execs)
}

// finish завершает execution узла с HTTP-кодом.
func (f *fixture) finish(t tester, runID uuid.UUID, node string, code int) *domain.TaskExecution {
	t.Helper()
	e := f.exec(t, runID, node)
	require.NotNil(t, e, "node %s has no execution", node)

	done, err := f.orch.Complete(context.Background(), e.ID, domain.Report{
		Result: &domain.ExecutionResult{StatusCode: code},
	})
	require.NoError(t, err)
	return done
}

func (f *fixture) run(t tester, runID uuid.UUID) *domain.WorkflowExecution {
	t.Helper()
	run, err := f.orch.GetRun(context.Background(), runID)
	require.NoError(t, err)
	return run
}

// --- Launch ---

func TestLaunch_CreatesOnlyStartNodes(t *testing.T) {
	f := newFixture()
	wfID := f.workflow(t, nil,
		[]map[string]any{f.node("A"), f.node("B"), f.node("C")},
		[]map[string]any{edge("A", "B"), edge("B", "C")},
	)

	res := f.launch(t, wfID)
	assert.Empty(t, res.Children)
	assert.Equal(t, wfID, res.Run.WorkflowID)
	assert.Equal(t, "checkout-probe", res.Run.WorkflowName)
	assert.Equal(t, 3, res.Run.WorkflowVersion)
	assert.Equal(t, domain.TriggerAPI, res.Run.TriggeredBy)
	assert.Equal(t, domain.StatusPending, res.Run.Status)
	assert.Nil(t, res.Run.CompletedAt)

	assert.Equal(t, 1, f.count(t, res.Run.ID))
	a := f.exec(t, res.Run.ID, "A")
	require.NotNil(t, a)
	assert.Equal(t, domain.StatusPending, a.Status)
	assert.Equal(t, f.task.ID, a.TaskID)
	assert.Empty(t, a.TargetTags)
}

func TestLaunch_Errors(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.orch.Launch(ctx, uuid.New(), LaunchRequest{})
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	cyclic := f.workflow(t, nil,
		[]map[string]any{f.node("A"), f.node("B")},
		[]map[string]any{edge("A", "B"), edge("B", "A")},
	)
	_, err = f.orch.Launch(ctx, cyclic, LaunchRequest{})
	assert.ErrorIs(t, err, ErrInvalidWorkflow)
	assert.ErrorIs(t, err, engine.ErrCyclicDependency)

	empty := f.workflow(t, nil, []map[string]any{}, nil)
	_, err = f.orch.Launch(ctx, empty, LaunchRequest{})
	assert.ErrorIs(t, err, ErrInvalidWorkflow)

	missing := f.workflow(t, nil,
		[]map[string]any{{"id": "A", "task_id": uuid.NewString()}}, nil)
	_, err = f.orch.Launch(ctx, missing, LaunchRequest{})
	assert.ErrorIs(t, err, ErrInvalidWorkflow)

	runs, err := f.orch.ListRuns(ctx, repoFilterAll)
	require.NoError(t, err)
	assert.Empty(t, runs, "invalid workflows write nothing")
}

func TestLaunch_FanOut(t *testing.T) {
	f := newFixture()
	gpu := []domain.Worker{f.worker("g1", "gpu"), f.worker("g2", "gpu", "linux"), f.worker("g3", "gpu")}
	f.worker("c1", "cpu")
	stale := f.worker("g4", "gpu")
	stale.LastSeen = t0.Add(-5 * time.Minute)
	f.store.PutWorker(stale)

	wfID := f.workflow(t, []string{"gpu"},
		[]map[string]any{f.node("A"), f.node("B")},
		[]map[string]any{edge("A", "B")},
	)

	res := f.launch(t, wfID)
	parent := res.Run
	assert.Equal(t, domain.StatusSuccess, parent.Status)
	require.NotNil(t, parent.CompletedAt)
	require.Len(t, res.Children, len(gpu))
	assert.Equal(t, 0, f.count(t, parent.ID), "parent is a pure router")

	pinned := map[uuid.UUID]bool{}
	for _, child := range res.Children {
		require.NotNil(t, child.ParentExecutionID)
		assert.Equal(t, parent.ID, *child.ParentExecutionID)
		require.NotNil(t, child.TargetWorkerID)
		pinned[*child.TargetWorkerID] = true

		a := f.exec(t, child.ID, "A")
		require.NotNil(t, a)
		require.NotNil(t, a.TargetWorkerID)
		assert.Equal(t, *child.TargetWorkerID, *a.TargetWorkerID)
		assert.Equal(t, domain.StatusPending, a.Status)
	}
	for _, w := range gpu {
		assert.True(t, pinned[w.ID], "worker %s has a child run", w.Hostname)
	}

	children, err := f.store.Runs().ListChildren(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.Len(t, children, len(gpu))
}

func TestLaunch_FanOutPinsTaggedStartNodes(t *testing.T) {
	f := newFixture()
	f.worker("g1", "gpu")
	f.worker("g2", "gpu")
	f.worker("g3", "gpu")
	fixed := f.worker("fixed", "cpu")

	wfID := f.workflow(t, []string{"gpu"},
		[]map[string]any{
			f.node("A", "target_tags", []string{"gpu"}),
			f.node("C", "target_worker_id", fixed.ID.String()),
			f.node("B", "target_tags", []string{"gpu"}),
		},
		[]map[string]any{edge("A", "B")},
	)

	res := f.launch(t, wfID)
	require.Len(t, res.Children, 3)

	for _, child := range res.Children {
		require.NotNil(t, child.TargetWorkerID)

		a := f.exec(t, child.ID, "A")
		require.NotNil(t, a)
		require.NotNil(t, a.TargetWorkerID, "tagged start node follows the child pin")
		assert.Equal(t, *child.TargetWorkerID, *a.TargetWorkerID)
		assert.Empty(t, a.TargetTags)

		c := f.exec(t, child.ID, "C")
		require.NotNil(t, c)
		require.NotNil(t, c.TargetWorkerID)
		assert.Equal(t, fixed.ID, *c.TargetWorkerID, "explicit node worker wins")

		f.finish(t, child.ID, "A", 200)
		b := f.exec(t, child.ID, "B")
		require.NotNil(t, b)
		assert.Nil(t, b.TargetWorkerID, "downstream node keeps its own tags")
		assert.Equal(t, []string{"gpu"}, b.TargetTags)
	}
}

func TestLaunch_SingleMatchPins(t *testing.T) {
	f := newFixture()
	w := f.worker("only", "gpu")
	f.worker("other", "cpu")

	wfID := f.workflow(t, []string{"gpu"},
		[]map[string]any{f.node("A"), f.node("B")},
		[]map[string]any{edge("A", "B")},
	)

	res := f.launch(t, wfID)
	assert.Empty(t, res.Children)
	require.NotNil(t, res.Run.TargetWorkerID)
	assert.Equal(t, w.ID, *res.Run.TargetWorkerID)

	stored := f.run(t, res.Run.ID)
	require.NotNil(t, stored.TargetWorkerID)
	assert.Equal(t, w.ID, *stored.TargetWorkerID)

	a := f.exec(t, res.Run.ID, "A")
	require.NotNil(t, a.TargetWorkerID)
	assert.Equal(t, w.ID, *a.TargetWorkerID)

	f.finish(t, res.Run.ID, "A", 200)
	b := f.exec(t, res.Run.ID, "B")
	require.NotNil(t, b)
	require.NotNil(t, b.TargetWorkerID, "downstream nodes inherit the run pin")
	assert.Equal(t, w.ID, *b.TargetWorkerID)
}

func TestLaunch_NoMatchingWorker(t *testing.T) {
	f := newFixture()
	f.worker("cpu-box", "cpu")

	wfID := f.workflow(t, []string{"tpu"},
		[]map[string]any{f.node("A"), f.node("B")},
		[]map[string]any{edge("A", "B")},
	)

	res := f.launch(t, wfID)
	assert.Empty(t, res.Children)
	assert.Nil(t, res.Run.TargetWorkerID)

	a := f.exec(t, res.Run.ID, "A")
	require.NotNil(t, a)
	assert.Equal(t, domain.StatusNoWorkerFound, a.Status)
	assert.NotNil(t, a.CompletedAt)
	assert.Equal(t, []string{"tpu"}, a.TargetTags)

	assert.Nil(t, f.exec(t, res.Run.ID, "B"), "SUCCESS_REQUIRED blocks after NO_WORKER_FOUND")
	run := f.run(t, res.Run.ID)
	assert.Equal(t, domain.StatusNoWorkerFound, run.Status)
	assert.NotNil(t, run.CompletedAt)
}

func TestLaunch_NodeTagsOverrideWorkflowTags(t *testing.T) {
	f := newFixture()
	f.worker("db-box", "db", "linux")

	wfID := f.workflow(t, nil,
		[]map[string]any{
			f.node("A", "target_tags", []string{"db"}),
			f.node("B", "target_tags", []string{"db", "gpu"}),
		},
		nil,
	)

	res := f.launch(t, wfID)
	a := f.exec(t, res.Run.ID, "A")
	b := f.exec(t, res.Run.ID, "B")
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Equal(t, domain.StatusPending, a.Status)
	assert.Equal(t, domain.StatusNoWorkerFound, b.Status, "no worker has both db and gpu")
}

func TestLaunch_NodeTargetWorker(t *testing.T) {
	f := newFixture()
	pin := uuid.New()

	wfID := f.workflow(t, []string{"gpu"},
		[]map[string]any{f.node("A", "target_worker_id", pin.String())},
		nil,
	)

	res := f.launch(t, wfID)
	a := f.exec(t, res.Run.ID, "A")
	require.NotNil(t, a)
	require.NotNil(t, a.TargetWorkerID)
	assert.Equal(t, pin, *a.TargetWorkerID)
	assert.Empty(t, a.TargetTags)
	assert.Equal(t, domain.StatusPending, a.Status)
}

// --- Advance ---

func TestScenario_ChainSucceeds(t *testing.T) {
	f := newFixture()
	wfID := f.workflow(t, nil,
		[]map[string]any{f.node("A"), f.node("B"), f.node("C")},
		[]map[string]any{edge("A", "B"), edge("B", "C")},
	)
	run := f.launch(t, wfID).Run

	f.finish(t, run.ID, "A", 200)
	assert.Equal(t, domain.StatusPending, f.exec(t, run.ID, "B").Status)
	f.finish(t, run.ID, "B", 201)
	f.finish(t, run.ID, "C", 204)

	got := f.run(t, run.ID)
	assert.Equal(t, domain.StatusSuccess, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, []domain.Status{domain.StatusSuccess}, f.events.finished)
	assert.Len(t, f.events.completed, 3)
}

func TestScenario_FailureBlocksChain(t *testing.T) {
	f := newFixture()
	wfID := f.workflow(t, nil,
		[]map[string]any{f.node("A"), f.node("B"), f.node("C")},
		[]map[string]any{edge("A", "B", "ALWAYS"), edge("B", "C", "ALWAYS")},
	)
	run := f.launch(t, wfID).Run

	a := f.finish(t, run.ID, "A", 500)
	assert.Equal(t, domain.StatusFailed, a.Status)

	assert.Nil(t, f.exec(t, run.ID, "B"))
	assert.Nil(t, f.exec(t, run.ID, "C"))
	got := f.run(t, run.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestScenario_OnFailureEdgeSkippedOnSuccess(t *testing.T) {
	f := newFixture()
	wfID := f.workflow(t, nil,
		[]map[string]any{f.node("A"), f.node("B")},
		[]map[string]any{edge("A", "B", "ON_FAILURE")},
	)
	run := f.launch(t, wfID).Run

	f.finish(t, run.ID, "A", 200)

	assert.Nil(t, f.exec(t, run.ID, "B"))
	assert.Equal(t, domain.StatusSuccess, f.run(t, run.ID).Status)
}

func TestScenario_OnFailureEdgeWithContinueOnFail(t *testing.T) {
	f := newFixture()
	wfID := f.workflow(t, nil,
		[]map[string]any{f.node("A", "failure_strategy", "CONTINUE_ON_FAIL"), f.node("cleanup")},
		[]map[string]any{edge("A", "cleanup", "ON_FAILURE")},
	)
	run := f.launch(t, wfID).Run

	f.finish(t, run.ID, "A", 503)
	require.NotNil(t, f.exec(t, run.ID, "cleanup"))
	f.finish(t, run.ID, "cleanup", 200)

	assert.Equal(t, domain.StatusFailed, f.run(t, run.ID).Status)
}

func TestScenario_DiamondWaitsForAllPredecessors(t *testing.T) {
	f := newFixture()
	wfID := f.workflow(t, nil,
		[]map[string]any{f.node("A"), f.node("B"), f.node("C"), f.node("D")},
		[]map[string]any{edge("A", "B"), edge("A", "C"), edge("B", "D"), edge("C", "D")},
	)
	run := f.launch(t, wfID).Run

	f.finish(t, run.ID, "A", 200)
	require.NotNil(t, f.exec(t, run.ID, "B"))
	require.NotNil(t, f.exec(t, run.ID, "C"))

	f.finish(t, run.ID, "B", 200)
	assert.Nil(t, f.exec(t, run.ID, "D"), "C is still pending")
	assert.Equal(t, domain.StatusPending, f.run(t, run.ID).Status)

	f.finish(t, run.ID, "C", 200)
	require.NotNil(t, f.exec(t, run.ID, "D"))

	f.finish(t, run.ID, "D", 200)
	assert.Equal(t, domain.StatusSuccess, f.run(t, run.ID).Status)
}

func TestAdvance_FanInAnyCompletionOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture()
		n := rapid.IntRange(2, 5).Draw(rt, "predecessors")

		ids := make([]string, n)
		nodes := []map[string]any{f.node("join")}
		var edges []map[string]any
		for i := range ids {
			ids[i] = string(rune('a' + i))
			nodes = append(nodes, f.node(ids[i]))
			edges = append(edges, edge(ids[i], "join"))
		}
		wfID := f.workflow(rt, nil, nodes, edges)
		run := f.launch(rt, wfID).Run

		order := rapid.Permutation(ids).Draw(rt, "order")
		for i, id := range order {
			if f.exec(rt, run.ID, "join") != nil {
				rt.Fatalf("join created after %d of %d predecessors", i, n)
			}
			f.finish(rt, run.ID, id, 200)
		}
		if f.exec(rt, run.ID, "join") == nil {
			rt.Fatalf("join not created after all predecessors finished")
		}
	})
}

func TestAdvance_ConditionIndependentOfOrder(t *testing.T) {
	for _, order := range [][]string{{"A", "B"}, {"B", "A"}} {
		f := newFixture()
		wfID := f.workflow(t, nil,
			[]map[string]any{
				f.node("A"),
				f.node("B", "failure_strategy", "CONTINUE_ON_FAIL"),
				f.node("D"),
			},
			[]map[string]any{edge("A", "D", "ALWAYS"), edge("B", "D", "ON_SUCCESS")},
		)
		run := f.launch(t, wfID).Run

		codes := map[string]int{"A": 200, "B": 500}
		for _, node := range order {
			f.finish(t, run.ID, node, codes[node])
		}
		assert.NotNil(t, f.exec(t, run.ID, "D"), "order %v", order)
	}
}

func TestAdvance_Idempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	wfID := f.workflow(t, nil,
		[]map[string]any{f.node("A"), f.node("B"), f.node("D")},
		[]map[string]any{edge("A", "D"), edge("B", "D")},
	)
	run := f.launch(t, wfID).Run

	f.finish(t, run.ID, "A", 200)
	f.finish(t, run.ID, "B", 200)
	require.NotNil(t, f.exec(t, run.ID, "D"))

	for _, node := range []string{"A", "B", "A"} {
		require.NoError(t, f.orch.Advance(ctx, run.ID, node))
	}
	assert.Equal(t, 3, f.count(t, run.ID))
}

func TestAdvance_ConcurrentPredecessorsCreateJoinOnce(t *testing.T) {
	for i := 0; i < 25; i++ {
		f := newFixture()
		ctx := context.Background()
		wfID := f.workflow(t, nil,
			[]map[string]any{f.node("B"), f.node("C"), f.node("E"), f.node("D")},
			[]map[string]any{edge("B", "D"), edge("C", "D"), edge("E", "D")},
		)
		run := f.launch(t, wfID).Run

		var wg sync.WaitGroup
		for _, node := range []string{"B", "C", "E"} {
			e := f.exec(t, run.ID, node)
			wg.Add(1)
			go func(id uuid.UUID) {
				defer wg.Done()
				_, err := f.orch.Complete(ctx, id, domain.Report{Result: &domain.ExecutionResult{StatusCode: 200}})
				assert.NoError(t, err)
			}(e.ID)
		}
		wg.Wait()

		require.NotNil(t, f.exec(t, run.ID, "D"))
		assert.Equal(t, 4, f.count(t, run.ID))
		assert.Nil(t, f.run(t, run.ID).CompletedAt, "D is still pending")
	}
}

func TestAdvance_FailureOverride(t *testing.T) {
	t.Run("soft failure still blocks SUCCESS_REQUIRED", func(t *testing.T) {
		f := newFixture()
		wfID := f.workflow(t, nil,
			[]map[string]any{f.node("A", "failure_status_override", "MAJOR"), f.node("B")},
			[]map[string]any{edge("A", "B")},
		)
		run := f.launch(t, wfID).Run

		a := f.finish(t, run.ID, "A", 500)
		assert.Equal(t, domain.StatusMajor, a.Status)
		assert.Nil(t, f.exec(t, run.ID, "B"))
		assert.Equal(t, domain.StatusMajor, f.run(t, run.ID).Status)
	})

	t.Run("continue on fail with override", func(t *testing.T) {
		f := newFixture()
		wfID := f.workflow(t, nil,
			[]map[string]any{
				f.node("A", "failure_strategy", "CONTINUE_ON_FAIL", "failure_status_override", "MINOR"),
				f.node("B"),
			},
			[]map[string]any{edge("A", "B")},
		)
		run := f.launch(t, wfID).Run

		f.finish(t, run.ID, "A", 404)
		require.NotNil(t, f.exec(t, run.ID, "B"))
		f.finish(t, run.ID, "B", 200)

		got := f.run(t, run.ID)
		assert.Equal(t, domain.StatusMinor, got.Status)
		assert.NotNil(t, got.CompletedAt)
	})
}

func TestAdvance_VariableUtilityNode(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	wfID := f.workflow(t, nil,
		[]map[string]any{
			{"id": "vars", "kind": "VARIABLE_UTILITY", "params": map[string]any{"region": "eu"}},
			f.node("call"),
		},
		[]map[string]any{edge("vars", "call")},
	)
	run := f.launch(t, wfID).Run

	vars := f.exec(t, run.ID, "vars")
	require.NotNil(t, vars)
	assert.Equal(t, domain.SystemVariableTaskID, vars.TaskID)
	assert.Equal(t, "eu", vars.Params["region"])

	done, err := f.orch.Complete(ctx, vars.ID, domain.Report{
		Result: &domain.ExecutionResult{Variables: []domain.Variable{{Name: "region", Value: "eu"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, done.Status)
	assert.NotNil(t, f.exec(t, run.ID, "call"))
}

// --- Complete ---

func TestComplete_Errors(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.orch.Complete(ctx, uuid.New(), domain.Report{})
	assert.ErrorIs(t, err, ErrExecutionNotFound)

	e, err := f.orch.ExecuteTask(ctx, f.task.ID, ExecuteRequest{})
	require.NoError(t, err)

	done, err := f.orch.Complete(ctx, e.ID, domain.Report{Error: "dial tcp: connection refused"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, done.Status)
	assert.Equal(t, "dial tcp: connection refused", done.Error)

	_, err = f.orch.Complete(ctx, e.ID, domain.Report{Result: &domain.ExecutionResult{StatusCode: 200}})
	assert.ErrorIs(t, err, ErrAlreadyTerminal)

	stored, err := f.orch.GetExecution(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status, "late report changes nothing")
}

func TestComplete_UsesSettingsSnapshotAndTaskMappings(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.store.SetStatusDefaults(domain.StatusDefaults{SuccessCodes: "200-399", FailureCodes: "400-599"})

	gateway := domain.Task{
		ID:             uuid.New(),
		Name:           "gateway",
		StatusMappings: []domain.StatusMapping{{Pattern: "504", Status: domain.StatusTimeout}},
		SanityChecks: []domain.SanityCheck{
			{Name: "no-maintenance", Pattern: "maintenance", Mode: domain.CheckMustNotContain, Severity: domain.SeverityWarning},
		},
	}
	f.store.PutTask(gateway)

	redirect, err := f.orch.ExecuteTask(ctx, f.task.ID, ExecuteRequest{})
	require.NoError(t, err)
	done, err := f.orch.Complete(ctx, redirect.ID, domain.Report{Result: &domain.ExecutionResult{StatusCode: 302}})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, done.Status)

	slow, err := f.orch.ExecuteTask(ctx, gateway.ID, ExecuteRequest{})
	require.NoError(t, err)
	done, err = f.orch.Complete(ctx, slow.ID, domain.Report{
		Result: &domain.ExecutionResult{StatusCode: 504, Body: "down for maintenance"},
		Input:  map[string]any{"url": "http://gw"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTimeout, done.Status)
	require.Len(t, done.Result.Checks, 1)
	assert.False(t, done.Result.Checks[0].Passed)
	assert.Equal(t, "http://gw", done.Input["url"])
}

// --- ExecuteTask ---

func TestExecuteTask(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w := f.worker("gpu-box", "gpu")

	_, err := f.orch.ExecuteTask(ctx, uuid.New(), ExecuteRequest{})
	assert.ErrorIs(t, err, ErrTaskNotFound)

	e, err := f.orch.ExecuteTask(ctx, f.task.ID, ExecuteRequest{Tags: []string{"gpu"}})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, e.Status)
	assert.False(t, e.BelongsToRun())

	none, err := f.orch.ExecuteTask(ctx, f.task.ID, ExecuteRequest{Tags: []string{"tpu"}})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNoWorkerFound, none.Status)

	pinned, err := f.orch.ExecuteTask(ctx, f.task.ID, ExecuteRequest{TargetWorkerID: &w.ID, Tags: []string{"ignored"}})
	require.NoError(t, err)
	assert.Equal(t, w.ID, *pinned.TargetWorkerID)
	assert.Empty(t, pinned.TargetTags)
}

// --- Terminate ---

func TestTerminate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	wfID := f.workflow(t, nil,
		[]map[string]any{f.node("A"), f.node("B")},
		nil,
	)
	run := f.launch(t, wfID).Run
	f.finish(t, run.ID, "B", 200)

	got, err := f.orch.Terminate(ctx, run.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, DefaultTerminateReason, got.Error)
	assert.NotNil(t, got.CompletedAt)

	a := f.exec(t, run.ID, "A")
	assert.Equal(t, domain.StatusFailed, a.Status)
	assert.Equal(t, domain.StatusSuccess, f.exec(t, run.ID, "B").Status, "terminal executions untouched")

	_, err = f.orch.Complete(ctx, a.ID, domain.Report{Result: &domain.ExecutionResult{StatusCode: 200}})
	assert.ErrorIs(t, err, ErrAlreadyTerminal)

	_, err = f.orch.Terminate(ctx, run.ID, "again")
	assert.ErrorIs(t, err, ErrRunFinished)

	_, err = f.orch.Terminate(ctx, uuid.New(), "")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestTerminate_FanOutParentCascades(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.worker("g1", "gpu")
	f.worker("g2", "gpu")

	wfID := f.workflow(t, []string{"gpu"}, []map[string]any{f.node("A")}, nil)
	res := f.launch(t, wfID)
	require.Len(t, res.Children, 2)

	_, err := f.orch.Terminate(ctx, res.Run.ID, "maintenance")
	require.NoError(t, err)

	for _, child := range res.Children {
		got := f.run(t, child.ID)
		assert.Equal(t, domain.StatusFailed, got.Status)
		assert.Equal(t, "maintenance", got.Error)
	}

	_, err = f.orch.Terminate(ctx, res.Run.ID, "")
	assert.ErrorIs(t, err, ErrRunFinished)
}

// --- Queries ---

func TestQueries(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.orch.RecomputeStatus(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = f.orch.RunExecutions(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = f.orch.GetExecution(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrExecutionNotFound)

	wfID := f.workflow(t, nil, []map[string]any{f.node("A")}, nil)
	run := f.launch(t, wfID).Run

	execs, err := f.orch.RunExecutions(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, execs, 1)

	runs, err := f.orch.ListRuns(ctx, repoFilterAll)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
