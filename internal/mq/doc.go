// Package mq публикует и читает события Relay через RabbitMQ.
//
// Структура:
//   - connection.go — соединение с reconnect и graceful shutdown
//   - topology.go   — exchange relay.events и временные очереди подписчиков
//   - publisher.go  — публикация событий (orchestrator, watchdog)
//   - consumer.go   — чтение событий (relay events tail)
//
// События (routing key = тип):
//   - execution.completed — execution получил финальный статус по отчёту
//   - execution.timed_out — execution завершён watchdog по таймауту
//   - run.finished        — run получил финальный агрегированный статус
//
// События информационные: состояние хранится в БД, и потеря события
// ничего не ломает.
package mq
