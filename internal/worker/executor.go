package worker

import (
	"context"
	"fmt"

	"github.com/shaiso/Relay/internal/dispatch"
	"github.com/shaiso/Relay/internal/domain"
)

// Виды выполнения.
const (
	KindHTTP     = "http"
	KindVariable = "variable"
)

// Executor выполняет назначенную работу.
//
// Ошибка Execute — транспортная: запрос не удалось выполнить.
// Она попадает в Report.Error, статус определяет сервер.
type Executor interface {
	Execute(ctx context.Context, a *dispatch.Assignment) (*Output, error)
}

// Output — результат выполнения для отчёта.
type Output struct {
	Result *domain.ExecutionResult

	// Input — разрешённые входные данные (отрендеренная команда или параметры).
	Input map[string]any
}

// Registry — реестр executor'ов по виду выполнения.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry создаёт реестр с executor'ами http и variable.
func NewRegistry() *Registry {
	r := &Registry{executors: make(map[string]Executor)}
	r.Register(KindHTTP, NewHTTPExecutor(nil))
	r.Register(KindVariable, &VariableExecutor{})
	return r
}

// Register добавляет executor для вида выполнения.
func (r *Registry) Register(kind string, executor Executor) {
	r.executors[kind] = executor
}

// Get возвращает executor для вида выполнения.
func (r *Registry) Get(kind string) (Executor, error) {
	executor, ok := r.executors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return executor, nil
}

// KindOf определяет вид выполнения назначения.
func KindOf(a *dispatch.Assignment) string {
	if a.Execution.TaskID == domain.SystemVariableTaskID || a.Task.IsSystem() {
		return KindVariable
	}
	return KindHTTP
}
