package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Workflow — определение DAG из task'ов.
//
// Узлы и рёбра хранятся в БД как JSONB в том виде, в каком их прислал
// CRUD API: массивом, строкой с JSON или объектом с ключами.
// До любой логики оркестрации они декодируются в строгий граф
// (engine.ParseGraph).
type Workflow struct {
	// ID — уникальный идентификатор workflow.
	ID uuid.UUID `json:"id"`

	// Name — имя workflow.
	Name string `json:"name"`

	// Version — номер версии определения.
	Version int `json:"version"`

	// Tags — affinity по умолчанию для узлов без собственных тегов.
	Tags []string `json:"tags"`

	// Nodes, Edges — сырые определения узлов и рёбер.
	Nodes json.RawMessage `json:"nodes"`
	Edges json.RawMessage `json:"edges"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NodeKind — тип узла.
type NodeKind string

const (
	// NodeKindTask — обычный узел, выполняющий task из каталога.
	NodeKindTask NodeKind = "TASK"

	// NodeKindVariableUtility — локальная работа с переменными без HTTP.
	NodeKindVariableUtility NodeKind = "VARIABLE_UTILITY"
)

// FailureStrategy — поведение при неуспехе узла.
type FailureStrategy string

const (
	// StrategySuccessRequired — неуспех узла блокирует всех его потомков.
	StrategySuccessRequired FailureStrategy = "SUCCESS_REQUIRED"

	// StrategyContinueOnFail — потомки запускаются независимо от исхода.
	StrategyContinueOnFail FailureStrategy = "CONTINUE_ON_FAIL"
)

// EdgeCondition — условие перехода по ребру.
type EdgeCondition string

const (
	EdgeAlways    EdgeCondition = "ALWAYS"
	EdgeOnSuccess EdgeCondition = "ON_SUCCESS"
	EdgeOnFailure EdgeCondition = "ON_FAILURE"
)

// Matches проверяет условие ребра против статуса источника.
func (c EdgeCondition) Matches(source Status) bool {
	switch c {
	case EdgeOnSuccess:
		return source == StatusSuccess
	case EdgeOnFailure:
		return source != StatusSuccess
	default:
		return true
	}
}

// Position — координаты узла в редакторе.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node — типизированный узел workflow.
type Node struct {
	// ID — уникальный в пределах workflow идентификатор узла.
	ID string `json:"id"`

	// Kind — TASK или VARIABLE_UTILITY.
	Kind NodeKind `json:"kind"`

	// TaskID — ссылка на task. Для VARIABLE_UTILITY — SystemVariableTaskID.
	TaskID uuid.UUID `json:"task_id"`

	Label    string   `json:"label,omitempty"`
	Position Position `json:"position"`

	// TargetTags — собственные теги узла (перекрывают теги workflow).
	TargetTags []string `json:"target_tags"`

	// TargetWorkerID — явное закрепление узла за worker'ом.
	TargetWorkerID *uuid.UUID `json:"target_worker_id,omitempty"`

	FailureStrategy FailureStrategy `json:"failure_strategy"`

	// FailureStatusOverride — статус, подставляемый вместо FAILED.
	// Пусто — без подмены.
	FailureStatusOverride Status `json:"failure_status_override,omitempty"`

	// Params — параметры узла, передаются в execution как есть.
	Params map[string]any `json:"params,omitempty"`
}

// Edge — ребро графа.
type Edge struct {
	Source    string        `json:"source"`
	Target    string        `json:"target"`
	Condition EdgeCondition `json:"condition"`
}

// TriggeredBy — источник запуска run.
type TriggeredBy string

const (
	TriggerManual   TriggeredBy = "MANUAL"
	TriggerAPI      TriggeredBy = "API"
	TriggerSchedule TriggeredBy = "SCHEDULE"
)

// WorkflowExecution — один запуск workflow.
//
// Статус — детерминированная функция статусов его task executions
// (Aggregate). Напрямую он выставляется только при принудительном
// завершении (terminate, watchdog) и у родителя fan-out.
type WorkflowExecution struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// WorkflowID — ссылка на workflow.
	WorkflowID uuid.UUID `json:"workflow_id"`

	// WorkflowName, WorkflowVersion — замороженная копия на момент запуска.
	WorkflowName    string `json:"workflow_name"`
	WorkflowVersion int    `json:"workflow_version"`

	Status      Status      `json:"status"`
	TriggeredBy TriggeredBy `json:"triggered_by"`
	UserID      string      `json:"user_id,omitempty"`

	// ParentExecutionID — родитель fan-out (только у дочерних run).
	ParentExecutionID *uuid.UUID `json:"parent_execution_id,omitempty"`

	// TargetWorkerID — worker, за которым закреплён run.
	TargetWorkerID *uuid.UUID `json:"target_worker_id,omitempty"`

	// Error — причина принудительного завершения.
	Error string `json:"error,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms"`
}

// IsFinished возвращает true, если run завершён (completed_at выставлен).
func (r *WorkflowExecution) IsFinished() bool {
	return r.CompletedAt != nil
}

// MarkCompleted фиксирует финальный статус и длительность run.
func (r *WorkflowExecution) MarkCompleted(status Status, now time.Time) {
	r.Status = status
	r.CompletedAt = &now
	r.DurationMs = now.Sub(r.StartedAt).Milliseconds()
}

// MarkFailed принудительно завершает run с причиной.
func (r *WorkflowExecution) MarkFailed(reason string, now time.Time) {
	r.Error = reason
	r.MarkCompleted(StatusFailed, now)
}
