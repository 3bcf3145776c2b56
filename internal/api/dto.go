package api

import (
	"github.com/google/uuid"
	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/orchestrator"
)

// Worker protocol DTOs

// RegisterWorkerRequest — регистрация агента.
type RegisterWorkerRequest struct {
	Hostname  string   `json:"hostname"`
	Tags      []string `json:"tags,omitempty"`
	IPAddress string   `json:"ip_address,omitempty"`
}

// HeartbeatRequest — heartbeat агента.
type HeartbeatRequest struct {
	Hostname string `json:"hostname"`
}

// PollRequest — запрос работы. Tags — теги, которые агент заявляет о себе.
type PollRequest struct {
	Hostname string   `json:"hostname"`
	Tags     []string `json:"tags,omitempty"`
}

// ClaimRequest — явный захват execution.
type ClaimRequest struct {
	Hostname string `json:"hostname"`
}

// CompleteRequest — отчёт о выполнении.
type CompleteRequest struct {
	Result *domain.ExecutionResult `json:"result,omitempty"`
	Error  string                  `json:"error,omitempty"`
	Input  map[string]any          `json:"input,omitempty"`
}

// ToReport конвертирует запрос в domain.Report.
func (r CompleteRequest) ToReport() domain.Report {
	return domain.Report{Result: r.Result, Error: r.Error, Input: r.Input}
}

// Operator DTOs

// LaunchRequest — запуск workflow.
type LaunchRequest struct {
	TriggeredBy domain.TriggeredBy `json:"triggered_by,omitempty"`
	UserID      string             `json:"user_id,omitempty"`
}

// ToDomain конвертирует запрос; по умолчанию запуск считается API.
func (r LaunchRequest) ToDomain() orchestrator.LaunchRequest {
	trigger := r.TriggeredBy
	if trigger == "" {
		trigger = domain.TriggerAPI
	}
	return orchestrator.LaunchRequest{TriggeredBy: trigger, UserID: r.UserID}
}

// ExecuteTaskRequest — разовый запуск task.
type ExecuteTaskRequest struct {
	TargetWorkerID *uuid.UUID `json:"target_worker_id,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
}

// TerminateRequest — принудительное завершение run.
type TerminateRequest struct {
	Reason string `json:"reason,omitempty"`
}

// SetTagsRequest — замена тегов worker'а.
type SetTagsRequest struct {
	Tags []string `json:"tags"`
}

// SetEnabledRequest — включение/отключение worker'а.
type SetEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// RunDetailResponse — run вместе с его executions.
type RunDetailResponse struct {
	Run        *domain.WorkflowExecution `json:"run"`
	Executions []domain.TaskExecution    `json:"executions,omitempty"`
}
