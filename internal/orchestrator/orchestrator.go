package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/repo"
)

// WorkerSource — список worker'ов, которым сейчас можно выдать работу.
// Реализуется registry.Registry.
type WorkerSource interface {
	Online(ctx context.Context) ([]domain.Worker, error)
}

// EventPublisher — получатель событий жизненного цикла.
// Реализуется mq.Publisher.
type EventPublisher interface {
	PublishExecutionCompleted(ctx context.Context, e *domain.TaskExecution) error
	PublishRunFinished(ctx context.Context, run *domain.WorkflowExecution) error
}

// Orchestrator ведёт runs по DAG workflow.
//
// Orchestrator не хранит состояния между вызовами: каждая операция
// читает run и его executions из хранилища. Гонки между параллельными
// вызовами разрешаются условными обновлениями хранилища:
//   - уникальность (run, node) при создании execution
//   - завершение execution только из PENDING/RUNNING
//   - обновление run только пока он не завершён
type Orchestrator struct {
	runs       repo.Runs
	executions repo.Executions
	tasks      repo.Tasks
	workflows  repo.Workflows
	settings   repo.Settings
	workers    WorkerSource
	events     EventPublisher

	now    func() time.Time
	logger *slog.Logger
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Repositories
	Runs       repo.Runs
	Executions repo.Executions
	Tasks      repo.Tasks
	Workflows  repo.Workflows
	Settings   repo.Settings

	// Workers — источник онлайн worker'ов для fan-out и NO_WORKER_FOUND.
	Workers WorkerSource

	// Events — публикация событий (опционально).
	Events EventPublisher

	Now    func() time.Time
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	events := cfg.Events
	if events == nil {
		events = noopEvents{}
	}

	return &Orchestrator{
		runs:       cfg.Runs,
		executions: cfg.Executions,
		tasks:      cfg.Tasks,
		workflows:  cfg.Workflows,
		settings:   cfg.Settings,
		workers:    cfg.Workers,
		events:     events,
		now:        now,
		logger:     logger.With("component", "orchestrator"),
	}
}

type noopEvents struct{}

func (noopEvents) PublishExecutionCompleted(context.Context, *domain.TaskExecution) error {
	return nil
}

func (noopEvents) PublishRunFinished(context.Context, *domain.WorkflowExecution) error {
	return nil
}

// publishCompleted публикует завершение execution. Ошибка брокера
// не влияет на результат операции.
func (o *Orchestrator) publishCompleted(ctx context.Context, e *domain.TaskExecution) {
	if err := o.events.PublishExecutionCompleted(ctx, e); err != nil {
		o.logger.Warn("failed to publish execution.completed", "execution_id", e.ID, "error", err)
	}
}

func (o *Orchestrator) publishRunFinished(ctx context.Context, run *domain.WorkflowExecution) {
	if err := o.events.PublishRunFinished(ctx, run); err != nil {
		o.logger.Warn("failed to publish run.finished", "run_id", run.ID, "error", err)
	}
}
