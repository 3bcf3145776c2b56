// Package dispatch выдаёт PENDING executions worker'ам.
//
// Worker опрашивает Router (Poll); Router выбирает кандидатов из
// хранилища, проверяет теги по актуальной записи worker'а и атомарно
// захватывает первого подходящего. Вместе с execution worker получает
// контекст: глобальные переменные, переменные run и HTTP-ответы
// завершённых узлов того же run.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/repo"
	"github.com/shaiso/Relay/internal/telemetry"
)

// DefaultCandidateLimit — сколько кандидатов просматривается за один poll.
const DefaultCandidateLimit = 10

// Ошибки router'а.
var (
	// ErrWorkerNotFound — worker не зарегистрирован.
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrExecutionNotFound — execution не найден.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrAlreadyClaimed — execution уже захвачен или завершён.
	ErrAlreadyClaimed = errors.New("execution already claimed")

	// ErrNotEligible — worker не подходит execution'у по тегам,
	// закреплению или отключён.
	ErrNotEligible = errors.New("worker is not eligible for execution")
)

// Assignment — execution, выданный worker'у, вместе с контекстом.
type Assignment struct {
	Execution *domain.TaskExecution `json:"execution"`

	// Task — определение task. Nil, если task удалён из каталога.
	Task *domain.Task `json:"task"`

	GlobalVars   map[string]string `json:"global_vars"`
	WorkflowVars []domain.Variable `json:"workflow_vars"`

	// Macros — {"response": {"<node>": {...}, "last": {...}}}.
	Macros map[string]any `json:"macros"`
}

// Router — выдача работы worker'ам.
type Router struct {
	executions repo.Executions
	workers    repo.Workers
	tasks      repo.Tasks
	variables  repo.Variables

	candidateLimit int
	now            func() time.Time
	logger         *slog.Logger
}

// Config — конфигурация Router.
type Config struct {
	Executions repo.Executions
	Workers    repo.Workers
	Tasks      repo.Tasks
	Variables  repo.Variables

	// CandidateLimit — размер выборки кандидатов (default: 10).
	CandidateLimit int

	Now    func() time.Time
	Logger *slog.Logger
}

// New создаёт Router.
func New(cfg Config) *Router {
	limit := cfg.CandidateLimit
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		executions:     cfg.Executions,
		workers:        cfg.Workers,
		tasks:          cfg.Tasks,
		variables:      cfg.Variables,
		candidateLimit: limit,
		now:            now,
		logger:         logger.With("component", "dispatch"),
	}
}

// Poll выдаёт worker'у следующий execution или nil, если работы нет.
//
// Теги из запроса только логируются: решение принимается по тегам
// из реестра. Poll также обновляет last_seen worker'а.
func (r *Router) Poll(ctx context.Context, hostname string, claimedTags []string) (*Assignment, error) {
	w, err := r.workers.Touch(ctx, strings.TrimSpace(hostname), r.now())
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrWorkerNotFound
		}
		return nil, fmt.Errorf("touch worker: %w", err)
	}

	if w.Status == domain.WorkerStatusDisabled {
		telemetry.Polls.WithLabelValues("disabled").Inc()
		return nil, nil
	}

	if claimed := domain.NormalizeTags(claimedTags); !slices.Equal(claimed, domain.NormalizeTags(w.Tags)) {
		r.logger.Debug("poll tags differ from registry",
			"hostname", w.Hostname,
			"claimed", claimed,
			"registered", w.Tags,
		)
	}

	candidates, err := r.executions.ListCandidates(ctx, w.ID, w.Tags, r.candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	var globals map[string]string
	for i := range candidates {
		candidate := &candidates[i]
		if !Eligible(w, candidate) {
			continue
		}

		// Контекст собирается до захвата: ошибка чтения не должна
		// оставить execution в RUNNING без worker'а, который его получил.
		if globals == nil {
			if globals, err = r.globals(ctx); err != nil {
				return nil, err
			}
		}
		assignment, err := r.buildContext(ctx, candidate, globals)
		if err != nil {
			return nil, err
		}

		claimed, err := r.executions.Claim(ctx, candidate.ID, w.ID, r.now())
		if err != nil {
			if errors.Is(err, repo.ErrInvalidState) || errors.Is(err, repo.ErrNotFound) {
				telemetry.ClaimConflicts.Inc()
				r.logger.Debug("lost claim race", "execution_id", candidate.ID, "hostname", w.Hostname)
				continue
			}
			return nil, fmt.Errorf("claim execution: %w", err)
		}

		assignment.Execution = claimed
		telemetry.Polls.WithLabelValues("assigned").Inc()
		telemetry.ExecutionsClaimed.Inc()
		r.logger.Info("execution assigned",
			"execution_id", claimed.ID,
			"task_id", claimed.TaskID,
			"worker_id", w.ID,
			"hostname", w.Hostname,
		)
		return assignment, nil
	}

	telemetry.Polls.WithLabelValues("empty").Inc()
	return nil, nil
}

// Claim явно захватывает execution для worker'а.
//
// Повторный Claim тем же worker'ом возвращает уже захваченный execution.
func (r *Router) Claim(ctx context.Context, executionID uuid.UUID, hostname string) (*domain.TaskExecution, error) {
	w, err := r.workers.GetByHostname(ctx, strings.TrimSpace(hostname))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrWorkerNotFound
		}
		return nil, fmt.Errorf("get worker: %w", err)
	}

	e, err := r.executions.GetByID(ctx, executionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrExecutionNotFound
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}

	if e.Status == domain.StatusRunning && e.WorkerID != nil && *e.WorkerID == w.ID {
		return e, nil
	}
	if e.Status != domain.StatusPending {
		return nil, ErrAlreadyClaimed
	}
	if w.Status == domain.WorkerStatusDisabled || !Eligible(w, e) {
		return nil, ErrNotEligible
	}

	claimed, err := r.executions.Claim(ctx, executionID, w.ID, r.now())
	if err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			telemetry.ClaimConflicts.Inc()
			return nil, ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("claim execution: %w", err)
	}

	telemetry.ExecutionsClaimed.Inc()
	r.logger.Info("execution claimed", "execution_id", claimed.ID, "worker_id", w.ID)
	return claimed, nil
}

// BuildContext собирает контекст для уже выданного execution.
func (r *Router) BuildContext(ctx context.Context, e *domain.TaskExecution) (*Assignment, error) {
	globals, err := r.globals(ctx)
	if err != nil {
		return nil, err
	}
	return r.buildContext(ctx, e, globals)
}

// Eligible проверяет, может ли worker взять execution: закреплённый
// execution — только свой worker, иначе теги worker'а должны
// покрывать все теги execution.
func Eligible(w *domain.Worker, e *domain.TaskExecution) bool {
	if e.TargetWorkerID != nil {
		return *e.TargetWorkerID == w.ID
	}
	return domain.TagsSatisfy(w.Tags, e.TargetTags)
}

func (r *Router) globals(ctx context.Context) (map[string]string, error) {
	globals, err := r.variables.Globals(ctx)
	if err != nil {
		return nil, fmt.Errorf("load global variables: %w", err)
	}
	if globals == nil {
		globals = make(map[string]string)
	}
	return globals, nil
}

func (r *Router) buildContext(ctx context.Context, e *domain.TaskExecution, globals map[string]string) (*Assignment, error) {
	a := &Assignment{
		Execution:    e,
		GlobalVars:   globals,
		WorkflowVars: []domain.Variable{},
		Macros:       map[string]any{},
	}

	if e.TaskID == domain.SystemVariableTaskID {
		a.Task = domain.SystemVariableTask()
	} else {
		task, err := r.tasks.GetByID(ctx, e.TaskID)
		switch {
		case err == nil:
			a.Task = task
		case errors.Is(err, repo.ErrNotFound):
			r.logger.Warn("task definition missing", "execution_id", e.ID, "task_id", e.TaskID)
		default:
			return nil, fmt.Errorf("get task: %w", err)
		}
	}

	if !e.BelongsToRun() {
		return a, nil
	}

	siblings, err := r.executions.ListByRunID(ctx, *e.WorkflowExecutionID)
	if err != nil {
		return nil, fmt.Errorf("list run executions: %w", err)
	}
	a.WorkflowVars, a.Macros = accumulate(e.ID, siblings)
	return a, nil
}

// accumulate собирает переменные и макросы завершённых узлов run
// в порядке завершения.
func accumulate(self uuid.UUID, siblings []domain.TaskExecution) ([]domain.Variable, map[string]any) {
	done := make([]domain.TaskExecution, 0, len(siblings))
	for _, s := range siblings {
		if s.ID != self && s.IsFinished() && s.CompletedAt != nil {
			done = append(done, s)
		}
	}
	slices.SortStableFunc(done, func(a, b domain.TaskExecution) int {
		return a.CompletedAt.Compare(*b.CompletedAt)
	})

	vars := []domain.Variable{}
	responses := map[string]any{}
	for _, s := range done {
		if s.Result == nil {
			continue
		}
		vars = append(vars, s.Result.Variables...)

		if s.Result.HasResponse() {
			macro := map[string]any{
				"node_id":     s.NodeID,
				"status_code": s.Result.StatusCode,
				"headers":     s.Result.Headers,
				"body":        s.Result.Body,
			}
			if s.NodeID != "" {
				responses[s.NodeID] = macro
			}
			responses["last"] = macro
		}
	}

	macros := map[string]any{}
	if len(responses) > 0 {
		macros["response"] = responses
	}
	return vars, macros
}
