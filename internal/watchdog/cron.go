package watchdog

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

// cronParser — стандартные 5 полей плюс дескрипторы (@every 30s, @hourly).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ErrAlreadyStarted — Start вызван повторно.
var ErrAlreadyStarted = errors.New("watchdog already started")

// ValidateSchedule проверяет cron выражение расписания.
func ValidateSchedule(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid watchdog schedule %q: %w", expr, err)
	}
	return nil
}

// Start запускает проверки по расписанию. Тики не накладываются:
// если предыдущая проверка ещё идёт, следующая пропускается.
func (w *Watchdog) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cron != nil {
		return ErrAlreadyStarted
	}

	schedule, err := cronParser.Parse(w.schedule)
	if err != nil {
		return fmt.Errorf("invalid watchdog schedule %q: %w", w.schedule, err)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(schedule, cron.FuncJob(func() { w.Tick(ctx) }))
	c.Start()
	w.cron = c

	w.logger.Info("watchdog started", "schedule", w.schedule, "default_timeout", w.defaultTimeout)
	return nil
}

// Stop останавливает расписание и ждёт завершения текущей проверки.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	w.logger.Info("watchdog stopped")
}

// Tick — одна проверка по расписанию. Выполняется только лидером.
func (w *Watchdog) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if w.leader != nil {
		ok, err := w.leader.TryAcquire(ctx)
		if err != nil {
			w.logger.Warn("leader election failed", "error", err)
			return
		}
		if !ok {
			w.logger.Debug("not a leader, skipping sweep")
			return
		}
	}

	if _, err := w.Sweep(ctx); err != nil {
		w.logger.Error("watchdog sweep failed", "error", err)
	}
}
