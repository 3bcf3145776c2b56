package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Metrics(),
		Logging(h.logger),
	)
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, chain(fn))
	}

	// Протокол worker'а
	handle("POST /api/v1/workers/register", h.RegisterWorker)
	handle("POST /api/v1/workers/heartbeat", h.Heartbeat)
	handle("POST /api/v1/workers/poll", h.Poll)
	handle("POST /api/v1/executions/{id}/claim", h.ClaimExecution)
	handle("POST /api/v1/executions/{id}/complete", h.CompleteExecution)

	// Workflows и tasks
	handle("POST /api/v1/workflows/{id}/launch", h.LaunchWorkflow)
	handle("POST /api/v1/tasks/{id}/execute", h.ExecuteTask)

	// Runs
	handle("GET /api/v1/runs", h.ListRuns)
	handle("GET /api/v1/runs/{id}", h.GetRun)
	handle("GET /api/v1/runs/{id}/executions", h.ListRunExecutions)
	handle("POST /api/v1/runs/{id}/terminate", h.TerminateRun)

	// Executions
	handle("GET /api/v1/executions/{id}", h.GetExecution)

	// Workers (оператор)
	handle("GET /api/v1/workers", h.ListWorkers)
	handle("GET /api/v1/workers/{id}", h.GetWorker)
	handle("PUT /api/v1/workers/{id}/tags", h.SetWorkerTags)
	handle("PUT /api/v1/workers/{id}/enabled", h.SetWorkerEnabled)

	// Теги
	handle("GET /api/v1/tags", h.ListTags)

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// Healthz — проверка живости.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.logger.Warn("health check failed", "error", err)
			Error(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
