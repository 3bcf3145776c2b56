package api

import (
	"net/http"

	"github.com/shaiso/Relay/internal/orchestrator"
)

// ClaimExecution захватывает execution для агента.
// POST /api/v1/executions/{id}/claim
func (h *Handler) ClaimExecution(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		BadRequest(w, "invalid execution id")
		return
	}

	var req ClaimRequest
	if err := decodeBody(r, &req, false); err != nil || req.Hostname == "" {
		BadRequest(w, "hostname is required")
		return
	}

	e, err := h.router.Claim(r.Context(), id, req.Hostname)
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, e)
}

// CompleteExecution принимает отчёт агента.
// POST /api/v1/executions/{id}/complete
func (h *Handler) CompleteExecution(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		BadRequest(w, "invalid execution id")
		return
	}

	var req CompleteRequest
	if err := decodeBody(r, &req, false); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	e, err := h.orch.Complete(r.Context(), id, req.ToReport())
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, e)
}

// GetExecution возвращает execution по ID.
// GET /api/v1/executions/{id}
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		BadRequest(w, "invalid execution id")
		return
	}

	e, err := h.orch.GetExecution(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, e)
}

// ExecuteTask запускает task вне workflow.
// POST /api/v1/tasks/{id}/execute
func (h *Handler) ExecuteTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		BadRequest(w, "invalid task id")
		return
	}

	var req ExecuteTaskRequest
	if err := decodeBody(r, &req, true); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	e, err := h.orch.ExecuteTask(r.Context(), id, orchestrator.ExecuteRequest{
		TargetWorkerID: req.TargetWorkerID,
		Tags:           req.Tags,
	})
	if HandleError(w, h.logger, err) {
		return
	}
	Created(w, e)
}
