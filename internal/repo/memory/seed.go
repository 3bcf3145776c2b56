package memory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/shaiso/Relay/internal/domain"
	"gopkg.in/yaml.v3"
)

// Seed — начальное содержимое хранилища для STORE=memory.
//
// Формат — YAML (или JSON) с полями в JSON-нотации domain:
//
//	tasks:
//	  - id: 6f1c...
//	    name: ping
//	    command: {method: GET, url: "{{ .Globals.base }}/ping"}
//	workflows:
//	  - id: 0b7e...
//	    name: smoke
//	    nodes: [{id: A, task_id: 6f1c...}]
//	    edges: []
//	variables:
//	  base: http://localhost:9000
type Seed struct {
	Tasks          []domain.Task          `json:"tasks"`
	Workflows      []domain.Workflow      `json:"workflows"`
	Variables      map[string]string      `json:"variables"`
	StatusDefaults *domain.StatusDefaults `json:"status_defaults"`
}

// LoadSeed читает seed из файла.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed разбирает seed. YAML сначала приводится к JSON, чтобы
// использовать json-теги domain и json.RawMessage узлов и рёбер.
func ParseSeed(data []byte) (*Seed, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing seed: %w", err)
	}

	j, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("converting seed: %w", err)
	}

	var seed Seed
	if err := json.Unmarshal(j, &seed); err != nil {
		return nil, fmt.Errorf("decoding seed: %w", err)
	}

	for i, t := range seed.Tasks {
		if t.ID == uuid.Nil {
			return nil, fmt.Errorf("seed: task #%d (%s) has no id", i, t.Name)
		}
	}
	for i, wf := range seed.Workflows {
		if wf.ID == uuid.Nil {
			return nil, fmt.Errorf("seed: workflow #%d (%s) has no id", i, wf.Name)
		}
	}
	return &seed, nil
}

// Apply загружает seed в хранилище.
func (s *Store) Apply(seed *Seed) {
	for _, t := range seed.Tasks {
		t.Tags = domain.NormalizeTags(t.Tags)
		s.PutTask(t)
	}
	for _, wf := range seed.Workflows {
		if wf.Version == 0 {
			wf.Version = 1
		}
		wf.Tags = domain.NormalizeTags(wf.Tags)
		s.PutWorkflow(wf)
	}
	for name, value := range seed.Variables {
		s.SetVariable(name, value)
	}
	if seed.StatusDefaults != nil {
		s.SetStatusDefaults(*seed.StatusDefaults)
	}
}
