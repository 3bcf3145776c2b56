package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/orchestrator"
	"github.com/shaiso/Relay/internal/repo"
	"github.com/shaiso/Relay/internal/telemetry"
)

// DefaultSchedule — период проверки по умолчанию.
const DefaultSchedule = "@every 30s"

// Terminator — принудительное завершение run (orchestrator.Orchestrator).
type Terminator interface {
	Terminate(ctx context.Context, runID uuid.UUID, reason string) (*domain.WorkflowExecution, error)
}

// EventPublisher — публикация событий о таймаутах (mq.Publisher).
type EventPublisher interface {
	PublishExecutionTimedOut(ctx context.Context, e *domain.TaskExecution) error
}

// Elector — выбор лидера среди реплик (repo.Leader).
type Elector interface {
	TryAcquire(ctx context.Context) (bool, error)
}

// Watchdog — фоновая проверка таймаутов executions.
type Watchdog struct {
	executions     repo.Executions
	tasks          repo.Tasks
	terminator     Terminator
	events         EventPublisher
	leader         Elector
	schedule       string
	defaultTimeout time.Duration
	batchSize      int
	now            func() time.Time
	logger         *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// Config — конфигурация Watchdog.
type Config struct {
	Executions repo.Executions
	Tasks      repo.Tasks
	Terminator Terminator
	Events     EventPublisher // опционально
	Leader     Elector        // опционально: без него каждый тик выполняется

	Schedule       string        // cron выражение (default: "@every 30s")
	DefaultTimeout time.Duration // для task без собственного таймаута (default: 60s)
	BatchSize      int           // executions за одну проверку (0 — все)

	Now    func() time.Time
	Logger *slog.Logger
}

// New создаёт Watchdog.
func New(cfg Config) *Watchdog {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = domain.DefaultTaskTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Watchdog{
		executions:     cfg.Executions,
		tasks:          cfg.Tasks,
		terminator:     cfg.Terminator,
		events:         cfg.Events,
		leader:         cfg.Leader,
		schedule:       schedule,
		defaultTimeout: timeout,
		batchSize:      cfg.BatchSize,
		now:            now,
		logger:         logger.With("component", "watchdog"),
	}
}

// Sweep выполняет одну проверку и возвращает число executions,
// переведённых в FAILED по таймауту.
//
// 1. Берёт активные executions (PENDING/RUNNING)
// 2. Для каждого считает дедлайн: started_at (или created_at) + таймаут task
// 3. Просроченный execution завершается условным обновлением
// 4. Run просроченного execution принудительно завершается
//
// Ошибка одного execution не мешает обработке остальных.
func (w *Watchdog) Sweep(ctx context.Context) (int, error) {
	active, err := w.executions.ListActive(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list active executions: %w", err)
	}
	if len(active) == 0 {
		return 0, nil
	}

	now := w.now()
	timeouts := make(map[uuid.UUID]time.Duration)

	var expired int
	for i := range active {
		e := &active[i]

		timeout, ok := timeouts[e.TaskID]
		if !ok {
			timeout = w.timeoutFor(ctx, e.TaskID)
			timeouts[e.TaskID] = timeout
		}
		if !now.After(e.EffectiveStart().Add(timeout)) {
			continue
		}

		timedOut, err := w.expire(ctx, e, timeout, now)
		if err != nil {
			w.logger.Error("failed to expire execution",
				"execution_id", e.ID,
				"error", err,
			)
			continue
		}
		if timedOut {
			expired++
		}
	}

	w.logger.Debug("watchdog sweep completed",
		"active", len(active),
		"timed_out", expired,
	)
	return expired, nil
}

// expire завершает просроченный execution и его run.
// Возвращает false, если execution успел завершиться сам.
func (w *Watchdog) expire(ctx context.Context, e *domain.TaskExecution, timeout time.Duration, now time.Time) (bool, error) {
	reason := fmt.Sprintf("execution timed out after %s", timeout)
	if e.Status == domain.StatusPending {
		reason = fmt.Sprintf("execution was not picked up within %s", timeout)
	}

	e.MarkFinished(domain.StatusFailed, reason, now)
	if err := w.executions.Finish(ctx, e); err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			return false, nil
		}
		return false, fmt.Errorf("finish execution: %w", err)
	}

	telemetry.WatchdogTimeouts.Inc()
	logger := telemetry.WithExecution(w.logger, e.ID.String())
	logger.Warn("execution timed out",
		"task_id", e.TaskID,
		"node_id", e.NodeID,
		"timeout", timeout,
	)

	if w.events != nil {
		if err := w.events.PublishExecutionTimedOut(ctx, e); err != nil {
			logger.Warn("failed to publish execution.timed_out", "error", err)
		}
	}

	if !e.BelongsToRun() {
		return true, nil
	}

	runReason := fmt.Sprintf("node %s: %s", e.NodeID, reason)
	if _, err := w.terminator.Terminate(ctx, *e.WorkflowExecutionID, runReason); err != nil {
		if errors.Is(err, orchestrator.ErrRunFinished) {
			return true, nil
		}
		return true, fmt.Errorf("terminate run %s: %w", e.WorkflowExecutionID, err)
	}
	return true, nil
}

// timeoutFor возвращает таймаут task. Системная и неизвестная task
// получают таймаут по умолчанию.
func (w *Watchdog) timeoutFor(ctx context.Context, taskID uuid.UUID) time.Duration {
	if taskID == domain.SystemVariableTaskID {
		return w.defaultTimeout
	}

	task, err := w.tasks.GetByID(ctx, taskID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			w.logger.Warn("failed to load task, using default timeout",
				"task_id", taskID,
				"error", err,
			)
		}
		return w.defaultTimeout
	}
	if task.Command.TimeoutSec <= 0 {
		return w.defaultTimeout
	}
	return task.Timeout()
}
