package domain

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTaskTimeout — таймаут execution, если в task он не задан.
const DefaultTaskTimeout = 60 * time.Second

// SystemVariableTaskID — фиксированный ID системной task для узлов
// типа VARIABLE_UTILITY. Такой task нет в каталоге: worker выполняет
// её локально, без HTTP-запроса.
var SystemVariableTaskID = uuid.MustParse("00000000-0000-0000-0000-00000000f001")

// Task — определение задачи из каталога.
//
// Task создаётся через внешний CRUD API и для Relay доступна только на чтение.
// Workflow-узлы ссылаются на неё по ID.
type Task struct {
	// ID — уникальный идентификатор task.
	ID uuid.UUID `json:"id"`

	// Name — человекочитаемое имя.
	Name string `json:"name"`

	// Command — шаблон HTTP-запроса.
	Command HTTPCommand `json:"command"`

	// StatusMappings — правила интерпретации HTTP-кода ответа.
	// Проверяются по порядку, побеждает первое совпадение.
	StatusMappings []StatusMapping `json:"status_mappings,omitempty"`

	// SanityChecks — проверки содержимого тела ответа.
	SanityChecks []SanityCheck `json:"sanity_checks,omitempty"`

	// Extract — спецификация извлечения переменных из ответа.
	// Интерпретируется worker'ом, оркестратору содержимое не важно.
	Extract map[string]string `json:"extract,omitempty"`

	// Scope — владелец task (команда, проект).
	Scope string `json:"scope,omitempty"`

	// Tags — теги task (участвуют в производном списке тегов).
	Tags []string `json:"tags"`

	// Groups — группы, в которые входит task.
	Groups []string `json:"groups,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// HTTPCommand — шаблон HTTP-запроса task.
type HTTPCommand struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`

	// TimeoutSec — таймаут выполнения в секундах (0 = DefaultTaskTimeout).
	TimeoutSec int `json:"timeout_sec,omitempty"`
}

// StatusMapping — правило "HTTP-код → статус".
//
// Pattern — список через запятую из литералов и диапазонов min-max,
// например "200,201,300-399".
type StatusMapping struct {
	Pattern string `json:"pattern"`
	Status  Status `json:"status"`
}

// CheckMode — режим sanity check.
type CheckMode string

const (
	CheckMustContain    CheckMode = "MUST_CONTAIN"
	CheckMustNotContain CheckMode = "MUST_NOT_CONTAIN"
)

// Severity — важность sanity check.
type Severity string

const (
	// SeverityError — провал проверки переводит execution в FAILED.
	SeverityError Severity = "ERROR"

	// SeverityWarning — провал только фиксируется в результате.
	SeverityWarning Severity = "WARNING"
)

// SanityCheck — проверка тела ответа регулярным выражением.
type SanityCheck struct {
	Name     string    `json:"name"`
	Pattern  string    `json:"pattern"`
	Mode     CheckMode `json:"mode"`
	Severity Severity  `json:"severity"`
}

// Timeout возвращает таймаут execution этой task.
func (t *Task) Timeout() time.Duration {
	if t == nil || t.Command.TimeoutSec <= 0 {
		return DefaultTaskTimeout
	}
	return time.Duration(t.Command.TimeoutSec) * time.Second
}

// IsSystem возвращает true для встроенной системной task.
func (t *Task) IsSystem() bool {
	return t != nil && t.ID == SystemVariableTaskID
}

// SystemVariableTask возвращает определение встроенной task
// для VARIABLE_UTILITY узлов.
func SystemVariableTask() *Task {
	return &Task{
		ID:   SystemVariableTaskID,
		Name: "variable-utility",
		Tags: []string{},
	}
}
