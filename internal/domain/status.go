package domain

// Status — статус выполнения task execution и workflow run.
//
// Жизненный цикл task execution:
//
//	PENDING → RUNNING → SUCCESS | FAILED | TIMEOUT | MAJOR | MINOR | WARNING | INFORMATION
//	PENDING → NO_WORKER_FOUND (при создании, если нет подходящего worker'а)
//	PENDING | RUNNING → FAILED (watchdog, terminate)
//
// Статус workflow run вычисляется агрегированием статусов его executions
// (см. Aggregate) и использует тот же набор значений.
type Status string

const (
	// StatusPending — execution создан и ждёт, пока его заберёт worker.
	StatusPending Status = "PENDING"

	// StatusRunning — execution захвачен worker'ом и выполняется.
	StatusRunning Status = "RUNNING"

	// StatusSuccess — выполнено успешно.
	StatusSuccess Status = "SUCCESS"

	// StatusFailed — выполнение завершилось ошибкой.
	StatusFailed Status = "FAILED"

	// StatusTimeout — выполнение превысило отведённое время.
	StatusTimeout Status = "TIMEOUT"

	// StatusNoWorkerFound — в момент создания не нашлось ни одного online worker'а
	// с подходящими тегами. Финальный статус, автоматически не повторяется.
	StatusNoWorkerFound Status = "NO_WORKER_FOUND"

	// StatusMajor, StatusMinor, StatusWarning, StatusInformation — "мягкие"
	// варианты FAILED, задаются через failureStatusOverride узла.
	StatusMajor       Status = "MAJOR"
	StatusMinor       Status = "MINOR"
	StatusWarning     Status = "WARNING"
	StatusInformation Status = "INFORMATION"
)

// AllStatuses — все статусы в порядке убывания приоритета агрегации.
var AllStatuses = []Status{
	StatusFailed,
	StatusMajor,
	StatusMinor,
	StatusTimeout,
	StatusWarning,
	StatusInformation,
	StatusNoWorkerFound,
	StatusRunning,
	StatusPending,
	StatusSuccess,
}

// aggregatePriority — чем больше число, тем выше приоритет при агрегации.
var aggregatePriority = func() map[Status]int {
	m := make(map[Status]int, len(AllStatuses))
	for i, s := range AllStatuses {
		m[s] = len(AllStatuses) - i
	}
	return m
}()

// IsValid возвращает true, если статус входит в известный набор.
func (s Status) IsValid() bool {
	_, ok := aggregatePriority[s]
	return ok
}

// IsTerminal возвращает true, если статус финальный.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPending, StatusRunning:
		return false
	default:
		return s.IsValid()
	}
}

// IsActive возвращает true для PENDING и RUNNING.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

// IsSoftFailure возвращает true для статусов, допустимых в failureStatusOverride.
func (s Status) IsSoftFailure() bool {
	switch s {
	case StatusMajor, StatusMinor, StatusWarning, StatusInformation:
		return true
	default:
		return false
	}
}

// Priority возвращает приоритет статуса при агрегации (0 для неизвестного).
func (s Status) Priority() int {
	return aggregatePriority[s]
}

// Aggregate вычисляет статус workflow run по статусам его executions.
//
// Результат — статус с наибольшим приоритетом:
//
//	FAILED > MAJOR > MINOR > TIMEOUT > WARNING > INFORMATION >
//	NO_WORKER_FOUND > RUNNING > PENDING > SUCCESS
//
// done == true, если ни один execution не находится в PENDING/RUNNING.
// Для пустого набора возвращается PENDING и done == false:
// run без executions ещё ничего не сделал.
func Aggregate(statuses []Status) (status Status, done bool) {
	if len(statuses) == 0 {
		return StatusPending, false
	}

	status = StatusSuccess
	done = true
	for _, s := range statuses {
		if s.IsActive() {
			done = false
		}
		if s.Priority() > status.Priority() {
			status = s
		}
	}
	return status, done
}

// WorkerStatus — статус worker'а.
//
// Хранятся только ONLINE и DISABLED. OFFLINE вычисляется по last_seen
// (см. Worker.EffectiveStatus) и никогда не записывается в БД.
type WorkerStatus string

const (
	WorkerStatusOnline   WorkerStatus = "ONLINE"
	WorkerStatusOffline  WorkerStatus = "OFFLINE"
	WorkerStatusDisabled WorkerStatus = "DISABLED"
)
