package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Relay/internal/dispatch"
	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/telemetry"
)

// Значения по умолчанию.
const (
	defaultPollInterval      = 5 * time.Second
	defaultHeartbeatInterval = 15 * time.Second
	defaultRetryInterval     = 2 * time.Second
	reportAttempts           = 3
)

// API — сторона relay-api, с которой работает агент.
type API interface {
	Register(ctx context.Context, hostname string, tags []string) (*domain.Worker, error)
	Heartbeat(ctx context.Context, hostname string) (*domain.Worker, error)
	Poll(ctx context.Context, hostname string, tags []string) (*dispatch.Assignment, error)
	Complete(ctx context.Context, executionID uuid.UUID, report domain.Report) (*domain.TaskExecution, error)
}

// Worker — агент, выполняющий executions, выданные relay-api.
//
// Цикл агента:
//   - регистрация по hostname (повторяется до успеха)
//   - heartbeat с интервалом HeartbeatInterval
//   - poll: пока есть работа, берёт следующую без паузы,
//     иначе ждёт PollInterval
//   - выполнение executor'ом по виду и отчёт через complete
//
// Executions выполняются последовательно: один агент — одна работа.
type Worker struct {
	api      API
	registry *Registry

	hostname          string
	tags              []string
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	retryInterval     time.Duration

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	API      API
	Registry *Registry // nil — NewRegistry()

	Hostname string
	Tags     []string

	PollInterval      time.Duration // default: 5s
	HeartbeatInterval time.Duration // default: 15s
	RetryInterval     time.Duration // пауза между попытками регистрации и отчёта (default: 2s)

	Logger *slog.Logger
}

// New создаёт Worker.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	w := &Worker{
		api:               cfg.API,
		registry:          registry,
		hostname:          cfg.Hostname,
		tags:              domain.NormalizeTags(cfg.Tags),
		pollInterval:      cfg.PollInterval,
		heartbeatInterval: cfg.HeartbeatInterval,
		retryInterval:     cfg.RetryInterval,
		logger:            logger.With("component", "agent", "hostname", cfg.Hostname),
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.heartbeatInterval <= 0 {
		w.heartbeatInterval = defaultHeartbeatInterval
	}
	if w.retryInterval <= 0 {
		w.retryInterval = defaultRetryInterval
	}
	return w
}

// Start запускает агента в фоне.
func (w *Worker) Start(ctx context.Context) error {
	if w.hostname == "" {
		return ErrNoHostname
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting agent",
		"tags", w.tags,
		"poll_interval", w.pollInterval,
		"heartbeat_interval", w.heartbeatInterval,
	)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		if err := w.register(ctx); err != nil {
			return
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.heartbeatLoop(ctx)
		}()

		w.pollLoop(ctx)
	}()
	return nil
}

// Stop останавливает агента и ждёт завершения текущей работы.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping agent...")
	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	w.wg.Wait()
	w.logger.Info("agent stopped")
}

// IsStopped проверяет, остановлен ли агент.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// register регистрирует агента, повторяя попытки до успеха или отмены ctx.
func (w *Worker) register(ctx context.Context) error {
	for {
		worker, err := w.api.Register(ctx, w.hostname, w.tags)
		if err == nil {
			w.logger.Info("agent registered", "worker_id", worker.ID, "tags", worker.Tags)
			return nil
		}
		w.logger.Warn("registration failed, retrying", "error", err)

		if !sleep(ctx, w.retryInterval) {
			return ctx.Err()
		}
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.api.Heartbeat(ctx, w.hostname); err != nil {
				if ctx.Err() != nil {
					return
				}
				w.handleAPIError(ctx, "heartbeat", err)
			}
		}
	}
}

func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.drain(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drain выполняет работу, пока poll её возвращает.
func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		a, err := w.api.Poll(ctx, w.hostname, w.tags)
		if err != nil {
			if ctx.Err() == nil {
				w.handleAPIError(ctx, "poll", err)
			}
			return
		}
		if a == nil || a.Execution == nil {
			return
		}
		w.process(ctx, a)
	}
}

// handleAPIError перерегистрирует агента, если API его не знает.
func (w *Worker) handleAPIError(ctx context.Context, op string, err error) {
	if errors.Is(err, ErrNotRegistered) {
		w.logger.Warn("agent unknown to api, re-registering", "op", op)
		_ = w.register(ctx)
		return
	}
	w.logger.Error(op+" failed", "error", err)
}

// process выполняет одно назначение и отправляет отчёт.
func (w *Worker) process(ctx context.Context, a *dispatch.Assignment) {
	e := a.Execution
	logger := telemetry.WithExecution(w.logger, e.ID.String())
	kind := KindOf(a)

	logger.Info("executing", "task_id", e.TaskID, "node_id", e.NodeID, "kind", kind)

	report := w.execute(ctx, a, kind)
	if report.Error != "" {
		logger.Warn("execution error", "error", report.Error)
	}

	w.report(ctx, logger, e, report)
}

func (w *Worker) execute(ctx context.Context, a *dispatch.Assignment, kind string) domain.Report {
	executor, err := w.registry.Get(kind)
	if err != nil {
		return domain.Report{Error: err.Error()}
	}

	execCtx, cancel := context.WithTimeout(ctx, a.Task.Timeout())
	defer cancel()

	out, err := executor.Execute(execCtx, a)

	var report domain.Report
	if out != nil {
		report.Result = out.Result
		report.Input = out.Input
	}
	if err != nil {
		report.Error = err.Error()
	}
	return report
}

func (w *Worker) report(ctx context.Context, logger *slog.Logger, e *domain.TaskExecution, report domain.Report) {
	for attempt := 1; ; attempt++ {
		done, err := w.api.Complete(ctx, e.ID, report)
		if err == nil {
			logger.Info("execution reported", "status", done.Status, "duration_ms", done.DurationMs)
			return
		}
		if errors.Is(err, ErrLateReport) {
			logger.Info("execution already finished on server, report dropped")
			return
		}
		if attempt >= reportAttempts || ctx.Err() != nil {
			logger.Error("failed to report execution", "attempts", attempt, "error", err)
			return
		}
		logger.Warn("report failed, retrying", "attempt", attempt, "error", err)
		if !sleep(ctx, w.retryInterval) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
