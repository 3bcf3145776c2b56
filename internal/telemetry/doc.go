// Package telemetry — логирование и метрики сервисов Relay.
//
// SetupLogger настраивает slog по LogConfig (уровень, json/text,
// файл с ротацией lumberjack). WithRun и WithExecution добавляют
// идентификаторы в записи. Метрики объявлены в metrics.go и
// регистрируются в глобальном реестре Prometheus.
package telemetry
