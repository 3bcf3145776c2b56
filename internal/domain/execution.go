package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskExecution — одна попытка выполнения Task.
//
// Создаётся оркестратором (для узлов workflow) или запросом "execute now"
// (standalone, без run). В нормальном сценарии меняется ровно два раза:
// захват worker'ом (→ RUNNING) и завершение (→ финальный статус).
// Watchdog и terminate могут один раз перевести его в FAILED.
type TaskExecution struct {
	// ID — уникальный идентификатор execution.
	ID uuid.UUID `json:"id"`

	// TaskID — ссылка на task из каталога (или SystemVariableTaskID).
	TaskID uuid.UUID `json:"task_id"`

	// WorkflowExecutionID — run, которому принадлежит execution.
	// nil для standalone executions.
	WorkflowExecutionID *uuid.UUID `json:"workflow_execution_id,omitempty"`

	// NodeID — ID узла workflow. Пусто для standalone.
	NodeID string `json:"node_id,omitempty"`

	// Status — текущий статус.
	Status Status `json:"status"`

	// TargetWorkerID — закрепление за конкретным worker'ом.
	TargetWorkerID *uuid.UUID `json:"target_worker_id,omitempty"`

	// TargetTags — требуемые теги worker'а. Пустой набор — любой worker.
	TargetTags []string `json:"target_tags"`

	// WorkerID — worker, захвативший execution.
	WorkerID *uuid.UUID `json:"worker_id,omitempty"`

	// Params — параметры узла (например, присваивания VARIABLE_UTILITY).
	Params map[string]any `json:"params,omitempty"`

	// Input — разрешённые входные данные, которые worker вернул в отчёте.
	Input map[string]any `json:"input,omitempty"`

	// Result — результат выполнения (ответ, переменные, проверки).
	Result *ExecutionResult `json:"result,omitempty"`

	// Error — ошибка или причина неуспеха.
	Error string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// DurationMs — completed_at − started_at в миллисекундах.
	DurationMs int64 `json:"duration_ms"`
}

// ExecutionResult — то, что worker сообщил о выполнении, плюс результаты проверок.
type ExecutionResult struct {
	// StatusCode — HTTP-код ответа. 0, если HTTP-запроса не было.
	StatusCode int               `json:"status_code,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`

	// Variables — переменные, извлечённые worker'ом из ответа.
	Variables []Variable `json:"variables,omitempty"`

	// Checks — итоги sanity checks, заполняются при оценке.
	Checks []CheckOutcome `json:"checks,omitempty"`
}

// HasResponse возвращает true, если в результате есть HTTP-ответ.
func (r *ExecutionResult) HasResponse() bool {
	return r != nil && r.StatusCode != 0
}

// Variable — извлечённая переменная.
type Variable struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// CheckOutcome — итог одной sanity check.
type CheckOutcome struct {
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`
	Passed   bool     `json:"passed"`

	// Message — описание провала или ошибки проверки.
	Message string `json:"message,omitempty"`

	// Error — true, если проверку не удалось выполнить (например, невалидный regex).
	Error bool `json:"error,omitempty"`
}

// Report — отчёт worker'а о завершении execution.
type Report struct {
	Result *ExecutionResult `json:"result,omitempty"`

	// Error — транспортная ошибка (worker не смог выполнить запрос).
	Error string `json:"error,omitempty"`

	Input map[string]any `json:"input,omitempty"`
}

// IsFinished возвращает true, если execution в финальном статусе.
func (e *TaskExecution) IsFinished() bool {
	return e.Status.IsTerminal()
}

// BelongsToRun возвращает true для executions внутри workflow run.
func (e *TaskExecution) BelongsToRun() bool {
	return e.WorkflowExecutionID != nil
}

// MarkRunning переводит execution в RUNNING от имени worker'а.
func (e *TaskExecution) MarkRunning(workerID uuid.UUID, now time.Time) {
	e.Status = StatusRunning
	e.WorkerID = &workerID
	e.StartedAt = &now
}

// MarkFinished переводит execution в финальный статус.
//
// Если execution так и не был захвачен, длительность считается от created_at.
func (e *TaskExecution) MarkFinished(status Status, reason string, now time.Time) {
	e.Status = status
	e.Error = reason
	e.CompletedAt = &now

	start := e.CreatedAt
	if e.StartedAt != nil {
		start = *e.StartedAt
	}
	e.DurationMs = now.Sub(start).Milliseconds()
}

// EffectiveStart возвращает момент, от которого отсчитывается таймаут:
// started_at для RUNNING, created_at для PENDING.
func (e *TaskExecution) EffectiveStart() time.Time {
	if e.StartedAt != nil {
		return *e.StartedAt
	}
	return e.CreatedAt
}
