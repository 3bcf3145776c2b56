package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrWorkflowNotFound — workflow не найден.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrInvalidWorkflow — определение workflow не прошло валидацию
	// (пустой граф, битые рёбра, цикл, ссылка на несуществующий task).
	ErrInvalidWorkflow = errors.New("invalid workflow")

	// ErrTaskNotFound — task не найден в каталоге.
	ErrTaskNotFound = errors.New("task not found")

	// ErrExecutionNotFound — execution не найден.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrAlreadyTerminal — отчёт пришёл для уже завершённого execution.
	ErrAlreadyTerminal = errors.New("execution already in terminal status")

	// ErrRunNotFound — run не найден.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunFinished — run уже завершён.
	ErrRunFinished = errors.New("run already finished")
)
