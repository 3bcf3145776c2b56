// Package worker — эталонный агент Relay.
//
// # Обзор
//
// Агент работает на удалённой машине и общается с relay-api
// только по HTTP (протокол worker'а):
//
//   - Регистрация по hostname; теги применяются только при первой регистрации
//   - Heartbeat, чтобы оставаться ONLINE
//   - Poll: сервер атомарно захватывает execution и возвращает его
//     вместе с контекстом (глобальные переменные, переменные run, macros)
//   - Выполнение и отчёт через complete
//
// # Executor
//
//	type Executor interface {
//	    Execute(ctx context.Context, a *dispatch.Assignment) (*Output, error)
//	}
//
// Реализации:
//   - HTTPExecutor — рендерит HTTP-команду task шаблонами engine
//     и выполняет её, извлекает переменные по Task.Extract
//   - VariableExecutor — узлы VARIABLE_UTILITY, без HTTP
//
// # Ошибки
//
// Агент не оценивает ответ: код ответа, проверки и статус
// определяет сервер. Ошибка Execute (запрос не выполнен) уходит
// в Report.Error.
//
// 404 от API означает, что агент неизвестен: он регистрируется заново.
// 409 на complete — execution уже завершён (terminate или watchdog),
// отчёт отбрасывается.
package worker
