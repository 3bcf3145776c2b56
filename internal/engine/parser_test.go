package engine

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shaiso/Relay/internal/domain"
)

const (
	taskA = "11111111-1111-1111-1111-111111111111"
	taskB = "22222222-2222-2222-2222-222222222222"
)

func TestDecodeNodes_Array(t *testing.T) {
	raw := json.RawMessage(`[
		{"id": "A", "task_id": "` + taskA + `", "target_tags": ["gpu", " gpu", ""]},
		{"id": "B", "taskId": "` + taskB + `", "failureStrategy": "continue_on_fail", "failureStatusOverride": "minor"}
	]`)

	nodes, err := DecodeNodes(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}

	a := nodes[0]
	if a.Kind != domain.NodeKindTask {
		t.Errorf("expected kind TASK, got %s", a.Kind)
	}
	if a.TaskID.String() != taskA {
		t.Errorf("expected task %s, got %s", taskA, a.TaskID)
	}
	if len(a.TargetTags) != 1 || a.TargetTags[0] != "gpu" {
		t.Errorf("expected tags [gpu], got %v", a.TargetTags)
	}
	if a.FailureStrategy != domain.StrategySuccessRequired {
		t.Errorf("expected default SUCCESS_REQUIRED, got %s", a.FailureStrategy)
	}

	b := nodes[1]
	if b.FailureStrategy != domain.StrategyContinueOnFail {
		t.Errorf("expected CONTINUE_ON_FAIL, got %s", b.FailureStrategy)
	}
	if b.FailureStatusOverride != domain.StatusMinor {
		t.Errorf("expected override MINOR, got %s", b.FailureStatusOverride)
	}
}

func TestDecodeNodes_StringifiedJSON(t *testing.T) {
	inner := `[{"id":"A","task_id":"` + taskA + `"}]`
	raw, _ := json.Marshal(inner)

	nodes, err := DecodeNodes(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nodes) != 1 || nodes[0].ID != "A" {
		t.Errorf("expected node A, got %+v", nodes)
	}
}

func TestDecodeNodes_KeyedMap(t *testing.T) {
	raw := json.RawMessage(`{
		"second": {"task_id": "` + taskB + `"},
		"first":  {"id": "custom", "task_id": "` + taskA + `"},
		"vars":   {"type": "variable"}
	}`)

	nodes, err := DecodeNodes(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(nodes))
	}

	// Порядок — по ключу: first, second, vars
	if nodes[0].ID != "custom" {
		t.Errorf("explicit id should win over key, got %s", nodes[0].ID)
	}
	if nodes[1].ID != "second" {
		t.Errorf("key should be used as id, got %s", nodes[1].ID)
	}
	if nodes[2].Kind != domain.NodeKindVariableUtility {
		t.Errorf("expected VARIABLE_UTILITY, got %s", nodes[2].Kind)
	}
	if nodes[2].TaskID != domain.SystemVariableTaskID {
		t.Errorf("utility node should use system task, got %s", nodes[2].TaskID)
	}
}

func TestDecodeNodes_InvalidTaskID(t *testing.T) {
	_, err := DecodeNodes(json.RawMessage(`[{"id":"A","task_id":"nope"}]`))
	if !errors.Is(err, ErrMissingTask) {
		t.Errorf("expected ErrMissingTask, got %v", err)
	}
}

func TestDecodeNodes_Malformed(t *testing.T) {
	for _, raw := range []string{`42`, `[1,2`, `"not json"`} {
		if _, err := DecodeNodes(json.RawMessage(raw)); !errors.Is(err, ErrMalformedGraph) {
			t.Errorf("%s: expected ErrMalformedGraph, got %v", raw, err)
		}
	}
}

func TestDecodeEdges_DefaultCondition(t *testing.T) {
	edges, err := DecodeEdges(json.RawMessage(`[
		{"source": "A", "target": "B"},
		{"source": "B", "target": "C", "condition": "on_failure"}
	]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if edges[0].Condition != domain.EdgeAlways {
		t.Errorf("expected ALWAYS, got %s", edges[0].Condition)
	}
	if edges[1].Condition != domain.EdgeOnFailure {
		t.Errorf("expected ON_FAILURE, got %s", edges[1].Condition)
	}
}

func TestDecodeEdges_Null(t *testing.T) {
	edges, err := DecodeEdges(json.RawMessage(`null`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(edges) != 0 {
		t.Errorf("expected no edges, got %d", len(edges))
	}
}

func TestParseGraph(t *testing.T) {
	nodes := json.RawMessage(`[{"id":"A","task_id":"` + taskA + `"},{"id":"B","task_id":"` + taskB + `"}]`)
	edges := json.RawMessage(`"[{\"source\":\"A\",\"target\":\"B\",\"condition\":\"ON_SUCCESS\"}]"`)

	g, err := ParseGraph(nodes, edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := g.Outgoing("A")
	if len(out) != 1 || out[0].Condition != domain.EdgeOnSuccess {
		t.Errorf("unexpected outgoing edges: %+v", out)
	}
}

func TestEdgeCondition_Matches(t *testing.T) {
	tests := []struct {
		cond   domain.EdgeCondition
		status domain.Status
		want   bool
	}{
		{domain.EdgeAlways, domain.StatusFailed, true},
		{domain.EdgeOnSuccess, domain.StatusSuccess, true},
		{domain.EdgeOnSuccess, domain.StatusMinor, false},
		{domain.EdgeOnFailure, domain.StatusSuccess, false},
		{domain.EdgeOnFailure, domain.StatusNoWorkerFound, true},
	}
	for _, tt := range tests {
		if got := tt.cond.Matches(tt.status); got != tt.want {
			t.Errorf("%s.Matches(%s) = %v, want %v", tt.cond, tt.status, got, tt.want)
		}
	}
}
