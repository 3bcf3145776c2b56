// Package orchestrator реализует жизненный цикл workflow runs.
//
// Операции:
//   - Launch — создание run (или fan-out по worker'ам) и стартовых executions
//   - ExecuteTask — разовый запуск task вне workflow
//   - Complete — приём отчёта worker'а, оценка статуса, продвижение run
//   - Advance — запуск узлов, для которых выполнены fan-in, условия рёбер
//     и стратегия отказа предшественников
//   - RecomputeStatus — агрегированный статус run по его executions
//   - Terminate — принудительное завершение run
//
// Состояние хранится только в repo: Orchestrator можно запускать
// в нескольких экземплярах relay-api одновременно.
package orchestrator
