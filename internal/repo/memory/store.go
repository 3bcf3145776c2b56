// Package memory — in-memory реализация хранилищ repo.
//
// Используется в тестах и в режиме STORE=memory для локальной разработки.
// Семантика условных обновлений совпадает с Postgres-реализацией:
// атомарный захват, уникальность (run, node), обновление только
// незавершённых записей.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/repo"
)

// Store — общее состояние всех in-memory репозиториев.
type Store struct {
	mu sync.Mutex

	tasks      map[uuid.UUID]domain.Task
	workflows  map[uuid.UUID]domain.Workflow
	workers    map[uuid.UUID]domain.Worker
	runs       map[uuid.UUID]domain.WorkflowExecution
	executions map[uuid.UUID]domain.TaskExecution

	// runNodes — индекс уникальности (run, node).
	runNodes map[runNode]uuid.UUID

	// seq — порядок вставки executions для стабильного FIFO.
	seq   map[uuid.UUID]int
	next  int
	vars  map[string]string
	codes domain.StatusDefaults
}

type runNode struct {
	run  uuid.UUID
	node string
}

// New создаёт пустой Store.
func New() *Store {
	return &Store{
		tasks:      make(map[uuid.UUID]domain.Task),
		workflows:  make(map[uuid.UUID]domain.Workflow),
		workers:    make(map[uuid.UUID]domain.Worker),
		runs:       make(map[uuid.UUID]domain.WorkflowExecution),
		executions: make(map[uuid.UUID]domain.TaskExecution),
		runNodes:   make(map[runNode]uuid.UUID),
		seq:        make(map[uuid.UUID]int),
		vars:       make(map[string]string),
		codes:      domain.DefaultStatusDefaults(),
	}
}

// Executions возвращает хранилище executions.
func (s *Store) Executions() *Executions { return &Executions{s: s} }

// Runs возвращает хранилище runs.
func (s *Store) Runs() *Runs { return &Runs{s: s} }

// Workers возвращает реестр worker'ов.
func (s *Store) Workers() *Workers { return &Workers{s: s} }

// Tasks возвращает каталог task.
func (s *Store) Tasks() *Tasks { return &Tasks{s: s} }

// Workflows возвращает определения workflow.
func (s *Store) Workflows() *Workflows { return &Workflows{s: s} }

// Settings возвращает системные настройки.
func (s *Store) Settings() *Settings { return &Settings{s: s} }

// Variables возвращает глобальные переменные.
func (s *Store) Variables() *Variables { return &Variables{s: s} }

// Tags возвращает производный список тегов.
func (s *Store) Tags() *Tags { return &Tags{s: s} }

// PutTask добавляет task в каталог.
func (s *Store) PutTask(t domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
}

// PutWorkflow добавляет workflow.
func (s *Store) PutWorkflow(wf domain.Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.ID] = wf
}

// PutWorker добавляет или заменяет worker'а целиком.
func (s *Store) PutWorker(w domain.Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.Tags == nil {
		w.Tags = []string{}
	}
	s.workers[w.ID] = w
}

// SetVariable задаёт глобальную переменную.
func (s *Store) SetVariable(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = value
}

// SetStatusDefaults задаёт шаблоны кодов.
func (s *Store) SetStatusDefaults(d domain.StatusDefaults) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes = d
}

// --- Executions ---

// Executions — in-memory repo.Executions.
type Executions struct{ s *Store }

var _ repo.Executions = (*Executions)(nil)

func (r *Executions) Create(_ context.Context, e *domain.TaskExecution) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[e.ID]; ok {
		return repo.ErrAlreadyExists
	}
	if e.WorkflowExecutionID != nil && e.NodeID != "" {
		key := runNode{run: *e.WorkflowExecutionID, node: e.NodeID}
		if _, ok := s.runNodes[key]; ok {
			return repo.ErrAlreadyExists
		}
		s.runNodes[key] = e.ID
	}

	s.next++
	s.seq[e.ID] = s.next
	s.executions[e.ID] = cloneExecution(*e)
	return nil
}

func (r *Executions) GetByID(_ context.Context, id uuid.UUID) (*domain.TaskExecution, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.executions[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	out := cloneExecution(e)
	return &out, nil
}

func (r *Executions) ListByRunID(_ context.Context, runID uuid.UUID) ([]domain.TaskExecution, error) {
	return r.filter(func(e *domain.TaskExecution) bool {
		return e.WorkflowExecutionID != nil && *e.WorkflowExecutionID == runID
	}, 0), nil
}

func (r *Executions) ListCandidates(_ context.Context, workerID uuid.UUID, tags []string, limit int) ([]domain.TaskExecution, error) {
	return r.filter(func(e *domain.TaskExecution) bool {
		if e.Status != domain.StatusPending {
			return false
		}
		if e.TargetWorkerID != nil {
			return *e.TargetWorkerID == workerID
		}
		return len(e.TargetTags) == 0 || domain.TagsIntersect(e.TargetTags, tags)
	}, limit), nil
}

func (r *Executions) Claim(_ context.Context, id, workerID uuid.UUID, now time.Time) (*domain.TaskExecution, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.executions[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if e.Status != domain.StatusPending {
		return nil, repo.ErrInvalidState
	}
	if e.TargetWorkerID != nil && *e.TargetWorkerID != workerID {
		return nil, repo.ErrInvalidState
	}

	e.MarkRunning(workerID, now)
	s.executions[id] = e
	out := cloneExecution(e)
	return &out, nil
}

func (r *Executions) Finish(_ context.Context, e *domain.TaskExecution) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.executions[e.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if !cur.Status.IsActive() {
		return repo.ErrInvalidState
	}

	cur.Status = e.Status
	cur.Result = e.Result
	cur.Input = e.Input
	cur.Error = e.Error
	cur.CompletedAt = e.CompletedAt
	cur.DurationMs = e.DurationMs
	s.executions[e.ID] = cloneExecution(cur)
	return nil
}

func (r *Executions) ListActive(_ context.Context, limit int) ([]domain.TaskExecution, error) {
	return r.filter(func(e *domain.TaskExecution) bool { return e.Status.IsActive() }, limit), nil
}

func (r *Executions) FailActiveByRunID(_ context.Context, runID uuid.UUID, reason string, now time.Time) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, e := range s.executions {
		if e.WorkflowExecutionID == nil || *e.WorkflowExecutionID != runID || !e.Status.IsActive() {
			continue
		}
		e.MarkFinished(domain.StatusFailed, reason, now)
		s.executions[id] = e
		n++
	}
	return n, nil
}

// filter возвращает копии executions в порядке вставки.
func (r *Executions) filter(match func(*domain.TaskExecution) bool, limit int) []domain.TaskExecution {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.TaskExecution
	for _, e := range s.executions {
		if match(&e) {
			out = append(out, cloneExecution(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cloneExecution(e domain.TaskExecution) domain.TaskExecution {
	e.TargetTags = slices.Clone(e.TargetTags)
	if e.TargetTags == nil {
		e.TargetTags = []string{}
	}
	e.Params = maps.Clone(e.Params)
	e.Input = maps.Clone(e.Input)
	if e.Result != nil {
		r := *e.Result
		r.Variables = slices.Clone(r.Variables)
		r.Checks = slices.Clone(r.Checks)
		r.Headers = maps.Clone(r.Headers)
		e.Result = &r
	}
	return e
}

// --- Runs ---

// Runs — in-memory repo.Runs.
type Runs struct{ s *Store }

var _ repo.Runs = (*Runs)(nil)

func (r *Runs) Create(_ context.Context, run *domain.WorkflowExecution) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return repo.ErrAlreadyExists
	}
	s.runs[run.ID] = *run
	return nil
}

func (r *Runs) GetByID(_ context.Context, id uuid.UUID) (*domain.WorkflowExecution, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &run, nil
}

func (r *Runs) List(_ context.Context, filter repo.RunFilter) ([]domain.WorkflowExecution, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.WorkflowExecution
	for _, run := range s.runs {
		if filter.WorkflowID != nil && run.WorkflowID != *filter.WorkflowID {
			continue
		}
		if filter.ParentID != nil && (run.ParentExecutionID == nil || *run.ParentExecutionID != *filter.ParentID) {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *Runs) ListChildren(ctx context.Context, parentID uuid.UUID) ([]domain.WorkflowExecution, error) {
	children, err := r.List(ctx, repo.RunFilter{ParentID: &parentID})
	if err != nil {
		return nil, err
	}
	slices.Reverse(children)
	return children, nil
}

func (r *Runs) Update(_ context.Context, run *domain.WorkflowExecution) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.runs[run.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if cur.CompletedAt != nil {
		return repo.ErrInvalidState
	}

	cur.Status = run.Status
	cur.CompletedAt = run.CompletedAt
	cur.DurationMs = run.DurationMs
	cur.Error = run.Error
	s.runs[run.ID] = cur
	return nil
}

// --- Workers ---

// Workers — in-memory repo.Workers.
type Workers struct{ s *Store }

var _ repo.Workers = (*Workers)(nil)

func (r *Workers) Register(_ context.Context, w *domain.Worker) (*domain.Worker, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, cur := range s.workers {
		if cur.Hostname != w.Hostname {
			continue
		}
		if w.IPAddress != "" {
			cur.IPAddress = w.IPAddress
		}
		if len(cur.Tags) == 0 {
			cur.Tags = slices.Clone(w.Tags)
		}
		if cur.Status != domain.WorkerStatusDisabled {
			cur.Status = domain.WorkerStatusOnline
		}
		cur.LastSeen = w.LastSeen
		s.workers[id] = cur
		return cloneWorker(cur), nil
	}

	created := *w
	created.Status = domain.WorkerStatusOnline
	created.CreatedAt = w.LastSeen
	created.Tags = slices.Clone(w.Tags)
	if created.Tags == nil {
		created.Tags = []string{}
	}
	s.workers[created.ID] = created
	return cloneWorker(created), nil
}

func (r *Workers) GetByID(_ context.Context, id uuid.UUID) (*domain.Worker, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return cloneWorker(w), nil
}

func (r *Workers) GetByHostname(_ context.Context, hostname string) (*domain.Worker, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.workers {
		if w.Hostname == hostname {
			return cloneWorker(w), nil
		}
	}
	return nil, repo.ErrNotFound
}

func (r *Workers) List(_ context.Context) ([]domain.Worker, error) {
	return r.list(func(domain.Worker) bool { return true }), nil
}

func (r *Workers) ListOnline(_ context.Context, since time.Time) ([]domain.Worker, error) {
	return r.list(func(w domain.Worker) bool {
		return w.Status == domain.WorkerStatusOnline && !w.LastSeen.Before(since)
	}), nil
}

func (r *Workers) Touch(_ context.Context, hostname string, now time.Time) (*domain.Worker, error) {
	return r.update(func(w *domain.Worker) bool { return w.Hostname == hostname }, func(w *domain.Worker) {
		w.LastSeen = now
		if w.Status != domain.WorkerStatusDisabled {
			w.Status = domain.WorkerStatusOnline
		}
	})
}

func (r *Workers) SetTags(_ context.Context, id uuid.UUID, tags []string) (*domain.Worker, error) {
	return r.update(func(w *domain.Worker) bool { return w.ID == id }, func(w *domain.Worker) {
		w.Tags = slices.Clone(tags)
		if w.Tags == nil {
			w.Tags = []string{}
		}
	})
}

func (r *Workers) SetStatus(_ context.Context, id uuid.UUID, status domain.WorkerStatus) (*domain.Worker, error) {
	return r.update(func(w *domain.Worker) bool { return w.ID == id }, func(w *domain.Worker) {
		w.Status = status
	})
}

func (r *Workers) list(match func(domain.Worker) bool) []domain.Worker {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Worker
	for _, w := range s.workers {
		if match(w) {
			out = append(out, *cloneWorker(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out
}

func (r *Workers) update(match func(*domain.Worker) bool, apply func(*domain.Worker)) (*domain.Worker, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, w := range s.workers {
		if !match(&w) {
			continue
		}
		apply(&w)
		s.workers[id] = w
		return cloneWorker(w), nil
	}
	return nil, repo.ErrNotFound
}

func cloneWorker(w domain.Worker) *domain.Worker {
	w.Tags = slices.Clone(w.Tags)
	if w.Tags == nil {
		w.Tags = []string{}
	}
	return &w
}

// --- Catalog ---

// Tasks — in-memory repo.Tasks.
type Tasks struct{ s *Store }

var _ repo.Tasks = (*Tasks)(nil)

func (r *Tasks) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.tasks[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &t, nil
}

func (r *Tasks) List(_ context.Context) ([]domain.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := slices.Collect(maps.Values(r.s.tasks))
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Workflows — in-memory repo.Workflows.
type Workflows struct{ s *Store }

var _ repo.Workflows = (*Workflows)(nil)

func (r *Workflows) GetByID(_ context.Context, id uuid.UUID) (*domain.Workflow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	wf, ok := r.s.workflows[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &wf, nil
}

func (r *Workflows) List(_ context.Context) ([]domain.Workflow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := slices.Collect(maps.Values(r.s.workflows))
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- Settings, variables, tags ---

// Settings — in-memory repo.Settings.
type Settings struct{ s *Store }

func (r *Settings) StatusDefaults(_ context.Context) (domain.StatusDefaults, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.codes, nil
}

// Variables — in-memory repo.Variables.
type Variables struct{ s *Store }

func (r *Variables) Globals(_ context.Context) (map[string]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return maps.Clone(r.s.vars), nil
}

// Tags — in-memory repo.TagIndex.
type Tags struct{ s *Store }

func (r *Tags) List(_ context.Context) ([]domain.TagUsage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	usage := make(map[string]*domain.TagUsage)
	get := func(tag string) *domain.TagUsage {
		u, ok := usage[tag]
		if !ok {
			u = &domain.TagUsage{Tag: tag}
			usage[tag] = u
		}
		return u
	}
	for _, w := range r.s.workers {
		for _, t := range w.Tags {
			get(t).Workers++
		}
	}
	for _, task := range r.s.tasks {
		for _, t := range task.Tags {
			get(t).Tasks++
		}
	}
	for _, wf := range r.s.workflows {
		for _, t := range wf.Tags {
			get(t).Workflows++
		}
	}

	out := make([]domain.TagUsage, 0, len(usage))
	for _, u := range usage {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out, nil
}

var (
	_ repo.Settings  = (*Settings)(nil)
	_ repo.Variables = (*Variables)(nil)
	_ repo.TagIndex  = (*Tags)(nil)
)
