package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/repo"
)

// DefaultListLimit — размер страницы списка runs по умолчанию.
const DefaultListLimit = 50

// LaunchWorkflow запускает workflow.
// POST /api/v1/workflows/{id}/launch
func (h *Handler) LaunchWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		BadRequest(w, "invalid workflow id")
		return
	}

	var req LaunchRequest
	if err := decodeBody(r, &req, true); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	res, err := h.orch.Launch(r.Context(), id, req.ToDomain())
	if HandleError(w, h.logger, err) {
		return
	}
	Created(w, res)
}

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?workflow_id=...&parent_id=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{}
	q := r.URL.Query()

	for name, dst := range map[string]**uuid.UUID{
		"workflow_id": &filter.WorkflowID,
		"parent_id":   &filter.ParentID,
	} {
		if s := q.Get(name); s != "" {
			id, err := uuid.Parse(s)
			if err != nil {
				BadRequest(w, "invalid "+name)
				return
			}
			*dst = &id
		}
	}

	if s := q.Get("status"); s != "" {
		status := domain.Status(s)
		if !status.IsValid() {
			BadRequest(w, "invalid status")
			return
		}
		filter.Status = status
	}

	var err error
	if filter.Limit, err = queryInt(r, "limit", DefaultListLimit); err != nil {
		BadRequest(w, err.Error())
		return
	}
	if filter.Offset, err = queryInt(r, "offset", 0); err != nil {
		BadRequest(w, err.Error())
		return
	}

	runs, err := h.orch.ListRuns(r.Context(), filter)
	if HandleError(w, h.logger, err) {
		return
	}
	if runs == nil {
		runs = []domain.WorkflowExecution{}
	}
	List(w, runs, len(runs))
}

// GetRun возвращает run по ID. С ?include=executions — вместе с executions.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.orch.GetRun(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	resp := RunDetailResponse{Run: run}
	if r.URL.Query().Get("include") == "executions" {
		resp.Executions, err = h.orch.RunExecutions(r.Context(), id)
		if HandleError(w, h.logger, err) {
			return
		}
	}
	Success(w, resp)
}

// ListRunExecutions возвращает executions run.
// GET /api/v1/runs/{id}/executions
func (h *Handler) ListRunExecutions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	execs, err := h.orch.RunExecutions(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}
	if execs == nil {
		execs = []domain.TaskExecution{}
	}
	List(w, execs, len(execs))
}

// TerminateRun принудительно завершает run.
// POST /api/v1/runs/{id}/terminate
func (h *Handler) TerminateRun(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	var req TerminateRequest
	if err := decodeBody(r, &req, true); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	run, err := h.orch.Terminate(r.Context(), id, req.Reason)
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, run)
}
