// Package watchdog переводит в FAILED executions, превысившие таймаут.
//
// Дедлайн execution — started_at (для PENDING — created_at) плюс таймаут
// task (Command.TimeoutSec, по умолчанию 60s). Просроченный execution
// завершается условным обновлением: отчёт worker'а, пришедший раньше,
// не перезаписывается. Run просроченного execution завершается
// принудительно через Terminator.
//
// Использование:
//
//	wd := watchdog.New(watchdog.Config{
//	    Executions: store.Executions(),
//	    Tasks:      store.Tasks(),
//	    Terminator: orch,
//	    Events:     publisher,                 // опционально
//	    Leader:     repo.NewLeader(pool, key), // опционально
//	    Logger:     logger,
//	})
//	if err := wd.Start(ctx); err != nil { ... }
//	defer wd.Stop()
//
// Leader Election:
//
// При нескольких репликах relay-watchdog проверку выполняет только
// держатель pg advisory lock. Остальные реплики пропускают тики.
package watchdog
