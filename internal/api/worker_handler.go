package api

import (
	"net"
	"net/http"
	"strings"

	"github.com/shaiso/Relay/internal/registry"
	"github.com/shaiso/Relay/internal/telemetry"
)

// RegisterWorker регистрирует агента.
// POST /api/v1/workers/register
func (h *Handler) RegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req RegisterWorkerRequest
	if err := decodeBody(r, &req, false); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	worker, err := h.registry.Register(r.Context(), registry.RegisterRequest{
		Hostname:  req.Hostname,
		Tags:      req.Tags,
		IPAddress: clientIP(r, req.IPAddress),
	})
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, worker)
}

// Heartbeat обновляет last_seen агента.
// POST /api/v1/workers/heartbeat
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := decodeBody(r, &req, false); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Hostname == "" {
		BadRequest(w, "hostname is required")
		return
	}

	worker, err := h.registry.Heartbeat(r.Context(), req.Hostname)
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, worker)
}

// Poll выдаёт агенту следующий execution или null.
// POST /api/v1/workers/poll
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	var req PollRequest
	if err := decodeBody(r, &req, false); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Hostname == "" {
		BadRequest(w, "hostname is required")
		return
	}

	assignment, err := h.router.Poll(r.Context(), req.Hostname, req.Tags)
	if HandleError(w, h.logger, err) {
		return
	}
	if assignment == nil {
		telemetry.FromContext(r.Context()).Debug("no work for worker", "hostname", req.Hostname)
		Success(w, nil)
		return
	}
	Success(w, assignment)
}

// ListWorkers возвращает worker'ов с производным статусом.
// GET /api/v1/workers
func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.registry.List(r.Context())
	if HandleError(w, h.logger, err) {
		return
	}
	List(w, workers, len(workers))
}

// GetWorker возвращает worker'а по ID.
// GET /api/v1/workers/{id}
func (h *Handler) GetWorker(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		BadRequest(w, "invalid worker id")
		return
	}

	worker, err := h.registry.Get(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, worker)
}

// SetWorkerTags заменяет теги worker'а.
// PUT /api/v1/workers/{id}/tags
func (h *Handler) SetWorkerTags(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		BadRequest(w, "invalid worker id")
		return
	}

	var req SetTagsRequest
	if err := decodeBody(r, &req, false); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	worker, err := h.registry.SetTags(r.Context(), id, req.Tags)
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, worker)
}

// SetWorkerEnabled включает или отключает worker'а.
// PUT /api/v1/workers/{id}/enabled
func (h *Handler) SetWorkerEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		BadRequest(w, "invalid worker id")
		return
	}

	var req SetEnabledRequest
	if err := decodeBody(r, &req, false); err != nil || req.Enabled == nil {
		BadRequest(w, "enabled is required")
		return
	}

	worker, err := h.registry.SetEnabled(r.Context(), id, *req.Enabled)
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, worker)
}

// ListTags возвращает производный список тегов.
// GET /api/v1/tags
func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.tags.List(r.Context())
	if HandleError(w, h.logger, err) {
		return
	}
	List(w, tags, len(tags))
}

// clientIP — адрес из тела, иначе адрес клиента.
func clientIP(r *http.Request, reported string) string {
	if reported != "" {
		return reported
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
