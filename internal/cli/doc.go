// Package cli реализует инструмент командной строки Relay.
//
// # Обзор
//
// CLI — клиентская утилита оператора. Работает через HTTP API
// и не импортирует internal/api: типы ответов дублируются в client.go.
// Исключение — events tail, который читает события напрямую из RabbitMQ.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Relay API: конверты {"data": ...} и
// {"error": {"code", "message"}}, ошибки API возвращаются как error.
//
//	client := cli.NewClient("http://localhost:8080")
//	runs, err := client.ListRuns(cli.ListRunsOpts{Status: "FAILED"})
//
// ## Output
//
// Форматирование вывода:
//   - Таблицы (text/tabwriter), статусы раскрашены (fatih/color)
//   - JSON с флагом --json, без цветов
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr:
// relay runs list --json | jq .
//
// ## Commands
//
// Каждая группа команд создаётся фабрикой NewXCmd(clientFn, outputFn):
//   - workflows launch
//   - runs list | show | executions | terminate
//   - tasks execute, executions show
//   - workers list | show | tags | enable | disable, tags
//   - events tail
package cli
