package engine

import "errors"

// Ошибки валидации графа workflow.
var (
	// ErrEmptyNodes — workflow не содержит узлов.
	ErrEmptyNodes = errors.New("workflow has no nodes")

	// ErrMalformedGraph — nodes/edges не удалось декодировать ни в одном из форматов.
	ErrMalformedGraph = errors.New("malformed nodes or edges")

	// ErrEmptyNodeID — узел без ID.
	ErrEmptyNodeID = errors.New("node has empty ID")

	// ErrDuplicateNodeID — несколько узлов с одинаковым ID.
	ErrDuplicateNodeID = errors.New("duplicate node ID")

	// ErrUnknownNodeKind — неизвестный тип узла.
	ErrUnknownNodeKind = errors.New("unknown node kind")

	// ErrMissingTask — TASK-узел без ссылки на task.
	ErrMissingTask = errors.New("node has no task reference")

	// ErrInvalidStrategy — неизвестная failure strategy.
	ErrInvalidStrategy = errors.New("invalid failure strategy")

	// ErrInvalidOverride — failureStatusOverride не из допустимого набора.
	ErrInvalidOverride = errors.New("invalid failure status override")

	// ErrUnknownEndpoint — ребро ссылается на несуществующий узел.
	ErrUnknownEndpoint = errors.New("edge references unknown node")

	// ErrInvalidCondition — неизвестное условие ребра.
	ErrInvalidCondition = errors.New("invalid edge condition")

	// ErrSelfLoop — ребро из узла в самого себя.
	ErrSelfLoop = errors.New("edge is a self loop")

	// ErrCyclicDependency — обнаружен цикл.
	ErrCyclicDependency = errors.New("cyclic dependency detected")
)

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")

	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	NodeID  string // ID узла, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(nodeID, field, message string, err error) *ValidationError {
	return &ValidationError{
		NodeID:  nodeID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
