package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/repo/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store  *memory.Store
	router *Router
	task   domain.Task
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	task := domain.Task{ID: uuid.New(), Name: "ping", Command: domain.HTTPCommand{Method: "GET", URL: "http://x"}}
	store.PutTask(task)

	return &fixture{
		store: store,
		task:  task,
		router: New(Config{
			Executions: store.Executions(),
			Workers:    store.Workers(),
			Tasks:      store.Tasks(),
			Variables:  store.Variables(),
			Now:        func() time.Time { return t0 },
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

func (f *fixture) pending(t *testing.T, created time.Time, tags []string, pin *uuid.UUID) domain.TaskExecution {
	t.Helper()
	if tags == nil {
		tags = []string{}
	}
	e := domain.TaskExecution{
		ID:             uuid.New(),
		TaskID:         f.task.ID,
		Status:         domain.StatusPending,
		TargetTags:     tags,
		TargetWorkerID: pin,
		CreatedAt:      created,
	}
	require.NoError(t, f.store.Executions().Create(context.Background(), &e))
	return e
}

func TestPoll_TagMatching(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.worker("cpu-box", "linux")
	f.worker("gpu-box", "gpu", "linux")

	e := f.pending(t, t0, []string{"gpu"}, nil)

	a, err := f.router.Poll(ctx, "cpu-box", nil)
	require.NoError(t, err)
	assert.Nil(t, a, "worker without gpu must not receive gpu work")

	a, err = f.router.Poll(ctx, "gpu-box", nil)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, e.ID, a.Execution.ID)
	assert.Equal(t, domain.StatusRunning, a.Execution.Status)
	assert.Equal(t, f.task.ID, a.Task.ID)
}

func TestPoll_GlobalExecutionGoesToAnyone(t *testing.T) {
	f := newFixture(t)
	f.worker("plain")
	e := f.pending(t, t0, nil, nil)

	a, err := f.router.Poll(context.Background(), "plain", nil)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, e.ID, a.Execution.ID)
}

func TestPoll_RequiresSupersetOfTags(t *testing.T) {
	f := newFixture(t)
	f.worker("gpu-only", "gpu")
	f.pending(t, t0, []string{"gpu", "linux"}, nil)

	a, err := f.router.Poll(context.Background(), "gpu-only", []string{"gpu", "linux"})
	require.NoError(t, err)
	assert.Nil(t, a, "request tags are not trusted")
}

func TestPoll_Pinned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.worker("owner")
	f.worker("other")

	e := f.pending(t, t0, nil, &owner.ID)

	a, err := f.router.Poll(ctx, "other", nil)
	require.NoError(t, err)
	assert.Nil(t, a)

	a, err = f.router.Poll(ctx, "owner", nil)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, e.ID, a.Execution.ID)
	assert.Equal(t, owner.ID, *a.Execution.WorkerID)
}

func TestPoll_FIFO(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.worker("w")

	later := f.pending(t, t0.Add(time.Second), nil, nil)
	earlier := f.pending(t, t0, nil, nil)

	first, err := f.router.Poll(ctx, "w", nil)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, earlier.ID, first.Execution.ID)

	second, err := f.router.Poll(ctx, "w", nil)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, later.ID, second.Execution.ID)

	third, err := f.router.Poll(ctx, "w", nil)
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestPoll_SkipsIneligibleCandidate(t *testing.T) {
	f := newFixture(t)
	f.worker("gpu-box", "gpu")

	f.pending(t, t0, []string{"gpu", "cuda12"}, nil)
	ok := f.pending(t, t0.Add(time.Second), []string{"gpu"}, nil)

	a, err := f.router.Poll(context.Background(), "gpu-box", nil)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, ok.ID, a.Execution.ID)
}

func TestPoll_DisabledAndUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.worker("off")
	w.Status = domain.WorkerStatusDisabled
	f.store.PutWorker(w)
	f.pending(t, t0, nil, nil)

	a, err := f.router.Poll(ctx, "off", nil)
	require.NoError(t, err)
	assert.Nil(t, a)

	_, err = f.router.Poll(ctx, "ghost", nil)
	assert.ErrorIs(t, err, ErrWorkerNotFound)
}

func TestPoll_RefreshesLastSeen(t *testing.T) {
	f := newFixture(t)
	w := f.worker("w")
	w.LastSeen = t0.Add(-time.Hour)
	f.store.PutWorker(w)

	_, err := f.router.Poll(context.Background(), "w", nil)
	require.NoError(t, err)

	got, err := f.store.Workers().GetByID(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, t0, got.LastSeen)
}

func TestPoll_ConcurrentWorkersNeverShareExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers, executions = 8, 20
	for i := 0; i < workers; i++ {
		f.worker(uuid.NewString())
	}
	for i := 0; i < executions; i++ {
		f.pending(t, t0.Add(time.Duration(i)*time.Millisecond), nil, nil)
	}
	all, err := f.store.Workers().List(ctx)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = map[uuid.UUID]int{}
		wg   sync.WaitGroup
	)
	for _, w := range all {
		wg.Add(1)
		go func(hostname string) {
			defer wg.Done()
			for {
				a, err := f.router.Poll(ctx, hostname, nil)
				if err != nil {
					t.Error(err)
					return
				}
				if a == nil {
					return
				}
				mu.Lock()
				seen[a.Execution.ID]++
				mu.Unlock()
			}
		}(w.Hostname)
	}
	wg.Wait()

	assert.Len(t, seen, executions)
	for id, n := range seen {
		assert.Equal(t, 1, n, "execution %s assigned %d times", id, n)
	}
}

func TestClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.worker("a")
	f.worker("b")
	f.worker("gpu", "gpu")

	e := f.pending(t, t0, nil, nil)

	claimed, err := f.router.Claim(ctx, e.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, claimed.Status)

	again, err := f.router.Claim(ctx, e.ID, "a")
	require.NoError(t, err, "same worker claim is idempotent")
	assert.Equal(t, claimed.ID, again.ID)

	_, err = f.router.Claim(ctx, e.ID, "b")
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	gpuWork := f.pending(t, t0, []string{"gpu"}, nil)
	_, err = f.router.Claim(ctx, gpuWork.ID, "a")
	assert.ErrorIs(t, err, ErrNotEligible)

	_, err = f.router.Claim(ctx, uuid.New(), "a")
	assert.ErrorIs(t, err, ErrExecutionNotFound)

	_, err = f.router.Claim(ctx, e.ID, "ghost")
	assert.ErrorIs(t, err, ErrWorkerNotFound)
}

func TestPoll_AssemblesRunContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.SetVariable("host", "api.local")
	f.worker("w")

	runID := uuid.New()
	finished := func(node string, completed time.Time, result *domain.ExecutionResult) {
		e := domain.TaskExecution{
			ID:                  uuid.New(),
			TaskID:              f.task.ID,
			WorkflowExecutionID: &runID,
			NodeID:              node,
			Status:              domain.StatusSuccess,
			TargetTags:          []string{},
			Result:              result,
			CreatedAt:           t0,
			CompletedAt:         &completed,
		}
		require.NoError(t, f.store.Executions().Create(ctx, &e))
	}

	finished("login", t0.Add(2*time.Second), &domain.ExecutionResult{
		StatusCode: 200,
		Body:       `{"token":"abc"}`,
		Variables:  []domain.Variable{{Name: "token", Value: "abc"}},
	})
	finished("vars", t0.Add(time.Second), &domain.ExecutionResult{
		Variables: []domain.Variable{{Name: "region", Value: "eu"}},
	})

	next := domain.TaskExecution{
		ID:                  uuid.New(),
		TaskID:              f.task.ID,
		WorkflowExecutionID: &runID,
		NodeID:              "fetch",
		Status:              domain.StatusPending,
		TargetTags:          []string{},
		CreatedAt:           t0.Add(3 * time.Second),
	}
	require.NoError(t, f.store.Executions().Create(ctx, &next))

	a, err := f.router.Poll(ctx, "w", nil)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, next.ID, a.Execution.ID)

	assert.Equal(t, map[string]string{"host": "api.local"}, a.GlobalVars)
	assert.Equal(t, []domain.Variable{
		{Name: "region", Value: "eu"},
		{Name: "token", Value: "abc"},
	}, a.WorkflowVars, "variables follow completion order")

	responses, ok := a.Macros["response"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, responses, "login")
	assert.NotContains(t, responses, "vars", "no http response, no macro")
	last := responses["last"].(map[string]any)
	assert.Equal(t, 200, last["status_code"])
	assert.Equal(t, "login", last["node_id"])
}

func TestBuildContext_SystemTask(t *testing.T) {
	f := newFixture(t)
	e := &domain.TaskExecution{ID: uuid.New(), TaskID: domain.SystemVariableTaskID}

	a, err := f.router.BuildContext(context.Background(), e)
	require.NoError(t, err)
	require.NotNil(t, a.Task)
	assert.True(t, a.Task.IsSystem())
	assert.Empty(t, a.WorkflowVars)
}
