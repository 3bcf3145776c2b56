package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики Relay. Регистрируются в глобальном реестре и
// отдаются через promhttp.Handler() на /metrics.
var (
	// ExecutionsCreated — созданные executions по начальному статусу
	// (PENDING или NO_WORKER_FOUND) и происхождению (workflow / standalone).
	ExecutionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_executions_created_total",
		Help: "Task executions created, by initial status and origin",
	}, []string{"status", "origin"})

	// ExecutionsClaimed — успешные захваты executions worker'ами.
	ExecutionsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_executions_claimed_total",
		Help: "Task executions claimed by workers",
	})

	// ClaimConflicts — проигранные гонки за execution.
	ClaimConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_claim_conflicts_total",
		Help: "Claims lost to another worker or to a state change",
	})

	// Polls — опросы worker'ов по исходу: assigned, empty, disabled.
	Polls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_polls_total",
		Help: "Worker polls, by outcome",
	}, []string{"outcome"})

	// ExecutionsCompleted — завершённые executions по финальному статусу.
	ExecutionsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_executions_completed_total",
		Help: "Task executions completed, by final status",
	}, []string{"status"})

	// ExecutionDuration — длительность выполнения (claim → report).
	ExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_execution_duration_seconds",
		Help:    "Task execution duration from claim to completion",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"status"})

	// WatchdogTimeouts — executions, принудительно завершённые по таймауту.
	WatchdogTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_watchdog_timeouts_total",
		Help: "Task executions failed by the timeout watchdog",
	})

	// RunsLaunched — запуски workflow по режиму: single, pinned, fanout.
	RunsLaunched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_runs_launched_total",
		Help: "Workflow launches, by mode",
	}, []string{"mode"})

	// RunsFinished — завершённые runs по финальному статусу.
	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_runs_finished_total",
		Help: "Workflow runs finished, by aggregate status",
	}, []string{"status"})

	// EventReconnects — переподключения к RabbitMQ.
	EventReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_events_reconnects_total",
		Help: "Reconnects of the RabbitMQ event connection",
	})

	// EventsPublished — опубликованные события по routing key и исходу.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_published_total",
		Help: "Lifecycle events published to RabbitMQ, by routing key and result",
	}, []string{"routing_key", "result"})

	// HTTPRequests — запросы к API по методу и коду ответа.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_api_http_requests_total",
		Help: "HTTP requests handled by relay-api",
	}, []string{"method", "code"})
)
