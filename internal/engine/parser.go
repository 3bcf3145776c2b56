package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shaiso/Relay/internal/domain"
)

// wireNode — узел в том виде, в каком его хранит CRUD API.
// Поддерживаются snake_case и camelCase ключи.
type wireNode struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	Type string `json:"type"`

	TaskID      string `json:"task_id"`
	TaskIDCamel string `json:"taskId"`

	Label    string          `json:"label"`
	Position domain.Position `json:"position"`

	TargetTags      []string `json:"target_tags"`
	TargetTagsCamel []string `json:"targetTags"`

	TargetWorkerID      string `json:"target_worker_id"`
	TargetWorkerIDCamel string `json:"targetWorkerId"`

	FailureStrategy      string `json:"failure_strategy"`
	FailureStrategyCamel string `json:"failureStrategy"`

	FailureStatusOverride      string `json:"failure_status_override"`
	FailureStatusOverrideCamel string `json:"failureStatusOverride"`

	Params map[string]any `json:"params"`
}

type wireEdge struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	Condition string `json:"condition"`
}

// ParseGraph декодирует и валидирует nodes/edges workflow и строит Graph.
func ParseGraph(nodesRaw, edgesRaw json.RawMessage) (*Graph, error) {
	nodes, err := DecodeNodes(nodesRaw)
	if err != nil {
		return nil, err
	}
	edges, err := DecodeEdges(edgesRaw)
	if err != nil {
		return nil, err
	}
	return BuildGraph(nodes, edges)
}

// DecodeNodes приводит сырое определение узлов к []domain.Node.
//
// Допустимые формы: JSON-массив, JSON-строка с массивом или объектом внутри,
// объект {"nodeId": {...}} (ключ используется как ID, если в узле его нет).
// Для объекта порядок узлов — по ключу.
func DecodeNodes(raw json.RawMessage) ([]domain.Node, error) {
	var wire []wireNode
	if err := decodeCollection(raw, &wire, func(key string, n *wireNode) {
		if n.ID == "" {
			n.ID = key
		}
	}); err != nil {
		return nil, fmt.Errorf("decode nodes: %w", err)
	}

	nodes := make([]domain.Node, 0, len(wire))
	for i := range wire {
		node, err := normalizeNode(&wire[i])
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// DecodeEdges приводит сырое определение рёбер к []domain.Edge.
// Формы те же, что у DecodeNodes.
func DecodeEdges(raw json.RawMessage) ([]domain.Edge, error) {
	var wire []wireEdge
	if err := decodeCollection(raw, &wire, nil); err != nil {
		return nil, fmt.Errorf("decode edges: %w", err)
	}

	edges := make([]domain.Edge, 0, len(wire))
	for _, w := range wire {
		cond := domain.EdgeCondition(strings.ToUpper(strings.TrimSpace(w.Condition)))
		if cond == "" {
			cond = domain.EdgeAlways
		}
		edges = append(edges, domain.Edge{
			Source:    strings.TrimSpace(w.Source),
			Target:    strings.TrimSpace(w.Target),
			Condition: cond,
		})
	}
	return edges, nil
}

// decodeCollection раскрывает строку с JSON и объект-словарь в slice.
// keyed вызывается для элементов словаря с их ключом.
func decodeCollection[T any](raw json.RawMessage, out *[]T, keyed func(key string, item *T)) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*out = nil
		return nil
	}

	switch raw[0] {
	case '"':
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedGraph, err)
		}
		return decodeCollection(json.RawMessage(inner), out, keyed)

	case '[':
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedGraph, err)
		}
		return nil

	case '{':
		var m map[string]T
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedGraph, err)
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		items := make([]T, 0, len(m))
		for _, k := range keys {
			item := m[k]
			if keyed != nil {
				keyed(k, &item)
			}
			items = append(items, item)
		}
		*out = items
		return nil

	default:
		return fmt.Errorf("%w: unexpected token %q", ErrMalformedGraph, raw[0])
	}
}

// normalizeNode переводит wireNode в domain.Node с умолчаниями.
func normalizeNode(w *wireNode) (domain.Node, error) {
	node := domain.Node{
		ID:       strings.TrimSpace(w.ID),
		Label:    w.Label,
		Position: w.Position,
		Params:   w.Params,
	}

	node.Kind = nodeKind(firstNonEmpty(w.Kind, w.Type))
	node.TargetTags = domain.NormalizeTags(append(w.TargetTags, w.TargetTagsCamel...))

	node.FailureStrategy = domain.FailureStrategy(
		strings.ToUpper(firstNonEmpty(w.FailureStrategy, w.FailureStrategyCamel)))
	if node.FailureStrategy == "" {
		node.FailureStrategy = domain.StrategySuccessRequired
	}

	node.FailureStatusOverride = domain.Status(
		strings.ToUpper(firstNonEmpty(w.FailureStatusOverride, w.FailureStatusOverrideCamel)))

	if taskID := firstNonEmpty(w.TaskID, w.TaskIDCamel); taskID != "" {
		id, err := uuid.Parse(taskID)
		if err != nil {
			return node, NewValidationError(node.ID, "task_id",
				fmt.Sprintf("invalid task id: %s", taskID), ErrMissingTask)
		}
		node.TaskID = id
		if node.Kind == "" {
			node.Kind = domain.NodeKindTask
		}
	}

	if workerID := firstNonEmpty(w.TargetWorkerID, w.TargetWorkerIDCamel); workerID != "" {
		id, err := uuid.Parse(workerID)
		if err != nil {
			return node, NewValidationError(node.ID, "target_worker_id",
				fmt.Sprintf("invalid worker id: %s", workerID), ErrMalformedGraph)
		}
		node.TargetWorkerID = &id
	}

	if node.Kind == domain.NodeKindVariableUtility {
		node.TaskID = domain.SystemVariableTaskID
	}
	return node, nil
}

// nodeKind распознаёт тип узла, включая старые написания.
func nodeKind(s string) domain.NodeKind {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return ""
	case "TASK", "HTTP":
		return domain.NodeKindTask
	case "VARIABLE_UTILITY", "VARIABLE", "VARIABLES", "UTILITY":
		return domain.NodeKindVariableUtility
	default:
		return domain.NodeKind(strings.ToUpper(s))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Validate проверяет узлы и рёбра без построения графа.
//
// Проверяет:
// - Наличие узлов
// - Уникальность ID
// - Тип узла и ссылку на task
// - Failure strategy и override
// - Концы и условия рёбер
func Validate(nodes []domain.Node, edges []domain.Edge) error {
	if len(nodes) == 0 {
		return ErrEmptyNodes
	}

	ids := make(map[string]bool, len(nodes))
	for i := range nodes {
		if err := ValidateNode(&nodes[i], ids); err != nil {
			return err
		}
	}

	for _, e := range edges {
		if err := validateEdge(e, ids); err != nil {
			return err
		}
	}
	return nil
}

// ValidateNode валидирует один узел.
// ids — уже встреченные ID (для проверки уникальности).
func ValidateNode(node *domain.Node, ids map[string]bool) error {
	if node.ID == "" {
		return NewValidationError("", "id", "node has empty ID", ErrEmptyNodeID)
	}
	if ids[node.ID] {
		return NewValidationError(node.ID, "id",
			fmt.Sprintf("duplicate node ID: %s", node.ID), ErrDuplicateNodeID)
	}
	ids[node.ID] = true

	switch node.Kind {
	case domain.NodeKindTask:
		if node.TaskID == uuid.Nil {
			return NewValidationError(node.ID, "task_id", "task node has no task id", ErrMissingTask)
		}
	case domain.NodeKindVariableUtility:
	case "":
		return NewValidationError(node.ID, "kind", "node has neither kind nor task id", ErrMissingTask)
	default:
		return NewValidationError(node.ID, "kind",
			fmt.Sprintf("unknown node kind: %s", node.Kind), ErrUnknownNodeKind)
	}

	switch node.FailureStrategy {
	case domain.StrategySuccessRequired, domain.StrategyContinueOnFail:
	default:
		return NewValidationError(node.ID, "failure_strategy",
			fmt.Sprintf("invalid failure strategy: %s", node.FailureStrategy), ErrInvalidStrategy)
	}

	if o := node.FailureStatusOverride; o != "" && o != domain.StatusFailed && !o.IsSoftFailure() {
		return NewValidationError(node.ID, "failure_status_override",
			fmt.Sprintf("invalid failure status override: %s", o), ErrInvalidOverride)
	}
	return nil
}

func validateEdge(e domain.Edge, ids map[string]bool) error {
	if !ids[e.Source] {
		return NewValidationError(e.Target, "source",
			fmt.Sprintf("edge source %q does not exist", e.Source), ErrUnknownEndpoint)
	}
	if !ids[e.Target] {
		return NewValidationError(e.Source, "target",
			fmt.Sprintf("edge target %q does not exist", e.Target), ErrUnknownEndpoint)
	}
	if e.Source == e.Target {
		return NewValidationError(e.Source, "target", "edge points to its own source", ErrSelfLoop)
	}
	switch e.Condition {
	case domain.EdgeAlways, domain.EdgeOnSuccess, domain.EdgeOnFailure:
		return nil
	default:
		return NewValidationError(e.Source, "condition",
			fmt.Sprintf("invalid edge condition: %s", e.Condition), ErrInvalidCondition)
	}
}
