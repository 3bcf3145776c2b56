// Package api содержит HTTP API relay-api.
//
// Структура:
//   - handler.go           — Handler с зависимостями (orchestrator, router, registry)
//   - routes.go            — регистрация маршрутов, /healthz и /metrics
//   - middleware.go        — recovery, метрики, логирование запросов
//   - response.go          — JSON-ответы и отображение ошибок в HTTP коды
//   - dto.go               — тела запросов
//   - worker_handler.go    — протокол агента (register, heartbeat, poll) и /workers, /tags
//   - execution_handler.go — claim, complete, execute now
//   - run_handler.go       — launch, /runs, terminate
//
// Все ответы завёрнуты в {"data": ...}; ошибки — {"error": {"code", "message"}}.
// Poll без работы возвращает {"data": null}.
package api
