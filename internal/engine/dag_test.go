package engine

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shaiso/Relay/internal/domain"
)

func taskNode(id string) domain.Node {
	return domain.Node{
		ID:              id,
		Kind:            domain.NodeKindTask,
		TaskID:          uuid.New(),
		FailureStrategy: domain.StrategySuccessRequired,
	}
}

func edge(from, to string) domain.Edge {
	return domain.Edge{Source: from, Target: to, Condition: domain.EdgeAlways}
}

func TestBuildGraph_SimpleChain(t *testing.T) {
	g, err := BuildGraph(
		[]domain.Node{taskNode("A"), taskNode("B"), taskNode("C")},
		[]domain.Edge{edge("A", "B"), edge("B", "C")},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.Size() != 3 {
		t.Errorf("expected 3 nodes, got %d", g.Size())
	}

	start := g.StartNodes()
	if len(start) != 1 || start[0].ID != "A" {
		t.Fatalf("expected single start node A, got %v", start)
	}

	if preds := g.Predecessors("C"); len(preds) != 1 || preds[0] != "B" {
		t.Errorf("C should depend on B, got %v", preds)
	}

	order := g.TopologicalOrder()
	if len(order) != 3 || order[0] != "A" || order[2] != "C" {
		t.Errorf("unexpected topological order: %v", order)
	}
}

func TestBuildGraph_Diamond(t *testing.T) {
	// A → B → D
	// A → C → D
	g, err := BuildGraph(
		[]domain.Node{taskNode("A"), taskNode("B"), taskNode("C"), taskNode("D")},
		[]domain.Edge{edge("A", "B"), edge("A", "C"), edge("B", "D"), edge("C", "D")},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if preds := g.Predecessors("D"); len(preds) != 2 {
		t.Errorf("D should have 2 predecessors, got %v", preds)
	}
	if succ := g.Successors("A"); len(succ) != 2 {
		t.Errorf("A should have 2 successors, got %v", succ)
	}
	if len(g.Incoming("D")) != 2 {
		t.Errorf("D should have 2 incoming edges, got %d", len(g.Incoming("D")))
	}
}

func TestBuildGraph_MultipleStartNodes(t *testing.T) {
	g, err := BuildGraph(
		[]domain.Node{taskNode("A"), taskNode("B"), taskNode("C")},
		[]domain.Edge{edge("A", "C"), edge("B", "C")},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	start := g.StartNodes()
	if len(start) != 2 {
		t.Fatalf("expected 2 start nodes, got %d", len(start))
	}
	// Порядок объявления сохраняется
	if start[0].ID != "A" || start[1].ID != "B" {
		t.Errorf("expected start nodes [A B], got [%s %s]", start[0].ID, start[1].ID)
	}
}

func TestBuildGraph_DuplicateEdgesCountedOnce(t *testing.T) {
	g, err := BuildGraph(
		[]domain.Node{taskNode("A"), taskNode("B")},
		[]domain.Edge{edge("A", "B"), {Source: "A", Target: "B", Condition: domain.EdgeOnSuccess}},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if preds := g.Predecessors("B"); len(preds) != 1 {
		t.Errorf("expected 1 predecessor, got %v", preds)
	}
	if len(g.Outgoing("A")) != 2 {
		t.Errorf("both edges should be kept, got %d", len(g.Outgoing("A")))
	}
}

func TestBuildGraph_Cycle(t *testing.T) {
	_, err := BuildGraph(
		[]domain.Node{taskNode("A"), taskNode("B"), taskNode("C")},
		[]domain.Edge{edge("A", "B"), edge("B", "C"), edge("C", "B")},
	)
	if !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("expected ErrCyclicDependency, got %v", err)
	}
}

func TestBuildGraph_ValidationErrors(t *testing.T) {
	utility := domain.Node{ID: "U", Kind: domain.NodeKindVariableUtility, FailureStrategy: domain.StrategySuccessRequired}

	tests := []struct {
		name  string
		nodes []domain.Node
		edges []domain.Edge
		want  error
	}{
		{"no nodes", nil, nil, ErrEmptyNodes},
		{"empty id", []domain.Node{taskNode("")}, nil, ErrEmptyNodeID},
		{"duplicate id", []domain.Node{taskNode("A"), taskNode("A")}, nil, ErrDuplicateNodeID},
		{"unknown target", []domain.Node{taskNode("A")}, []domain.Edge{edge("A", "X")}, ErrUnknownEndpoint},
		{"unknown source", []domain.Node{taskNode("A")}, []domain.Edge{edge("X", "A")}, ErrUnknownEndpoint},
		{"self loop", []domain.Node{taskNode("A")}, []domain.Edge{edge("A", "A")}, ErrSelfLoop},
		{
			"bad condition",
			[]domain.Node{taskNode("A"), taskNode("B")},
			[]domain.Edge{{Source: "A", Target: "B", Condition: "SOMETIMES"}},
			ErrInvalidCondition,
		},
		{
			"task node without task",
			[]domain.Node{{ID: "A", Kind: domain.NodeKindTask, FailureStrategy: domain.StrategySuccessRequired}},
			nil,
			ErrMissingTask,
		},
		{
			"bad strategy",
			[]domain.Node{{ID: "A", Kind: domain.NodeKindTask, TaskID: uuid.New(), FailureStrategy: "RETRY"}},
			nil,
			ErrInvalidStrategy,
		},
		{
			"bad override",
			[]domain.Node{{ID: "A", Kind: domain.NodeKindTask, TaskID: uuid.New(),
				FailureStrategy: domain.StrategySuccessRequired, FailureStatusOverride: domain.StatusSuccess}},
			nil,
			ErrInvalidOverride,
		},
		{"utility ok", []domain.Node{utility}, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildGraph(tt.nodes, tt.edges)
			if tt.want == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidationError_Message(t *testing.T) {
	err := NewValidationError("B", "target", "edge target \"X\" does not exist", ErrUnknownEndpoint)
	if err.Error() != `node B: edge target "X" does not exist` {
		t.Errorf("unexpected message: %s", err.Error())
	}

	var ve *ValidationError
	if !errors.As(error(err), &ve) || ve.Field != "target" {
		t.Error("expected ValidationError with field target")
	}
}
