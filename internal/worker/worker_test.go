package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Relay/internal/dispatch"
	"github.com/shaiso/Relay/internal/domain"
)

func assignment(task *domain.Task, params map[string]any) *dispatch.Assignment {
	taskID := domain.SystemVariableTaskID
	if task != nil {
		taskID = task.ID
	}
	return &dispatch.Assignment{
		Execution: &domain.TaskExecution{
			ID:     uuid.New(),
			TaskID: taskID,
			Status: domain.StatusRunning,
			Params: params,
		},
		Task: task,
	}
}

// --- HTTPExecutor ---

func TestHTTPExecutor_RendersCommand(t *testing.T) {
	var (
		gotPath  string
		gotAuth  string
		gotBody  string
		gotCType string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotCType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)

		w.Header().Set("X-Request-Id", "req-1")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"item":{"id":"42","tags":["a","b"]}}`))
	}))
	defer server.Close()

	task := &domain.Task{
		ID: uuid.New(),
		Command: domain.HTTPCommand{
			Method:  "post",
			URL:     "{{ .Globals.base }}/items/{{ .Params.id }}",
			Headers: map[string]string{"Authorization": "Bearer {{ .Vars.token }}"},
			Body:    `{"prev":{{ .Macros.response.login.status_code }}}`,
		},
		Extract: map[string]string{
			"item_id": "body.item.id",
			"second":  "body.item.tags.1",
			"code":    "status_code",
			"req":     "header.x-request-id",
			"missing": "body.nope",
		},
	}
	a := assignment(task, map[string]any{"id": "42"})
	a.GlobalVars = map[string]string{"base": server.URL}
	a.WorkflowVars = []domain.Variable{{Name: "token", Value: "old"}, {Name: "token", Value: "t0k"}}
	a.Macros = map[string]any{
		"response": map[string]any{
			"login": map[string]any{"status_code": 200},
		},
	}

	out, err := NewHTTPExecutor(nil).Execute(context.Background(), a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/items/42" {
		t.Errorf("expected path /items/42, got %s", gotPath)
	}
	if gotAuth != "Bearer t0k" {
		t.Errorf("expected last token value, got %q", gotAuth)
	}
	if gotBody != `{"prev":200}` {
		t.Errorf("unexpected body %q", gotBody)
	}
	if gotCType != "application/json" {
		t.Errorf("expected default content type, got %q", gotCType)
	}

	if out.Result.StatusCode != http.StatusCreated {
		t.Errorf("expected 201, got %d", out.Result.StatusCode)
	}
	if out.Input["url"] != server.URL+"/items/42" {
		t.Errorf("input should carry rendered url, got %v", out.Input["url"])
	}

	want := map[string]any{"code": 201, "item_id": "42", "req": "req-1", "second": "b"}
	if len(out.Result.Variables) != len(want) {
		t.Fatalf("expected %d variables, got %+v", len(want), out.Result.Variables)
	}
	for _, v := range out.Result.Variables {
		if want[v.Name] != v.Value {
			t.Errorf("variable %s: expected %v, got %v", v.Name, want[v.Name], v.Value)
		}
	}
}

func TestHTTPExecutor_ErrorStatusIsNotError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	task := &domain.Task{ID: uuid.New(), Command: domain.HTTPCommand{URL: server.URL}}
	out, err := NewHTTPExecutor(nil).Execute(context.Background(), assignment(task, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Result.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", out.Result.StatusCode)
	}
}

func TestHTTPExecutor_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	task := &domain.Task{ID: uuid.New(), Command: domain.HTTPCommand{Method: "GET", URL: url}}
	out, err := NewHTTPExecutor(nil).Execute(context.Background(), assignment(task, nil))
	if !errors.Is(err, ErrHTTPRequest) {
		t.Fatalf("expected ErrHTTPRequest, got %v", err)
	}
	if out == nil || out.Input["url"] != url {
		t.Errorf("input should be reported even on transport error")
	}
}

func TestHTTPExecutor_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	task := &domain.Task{ID: uuid.New(), Command: domain.HTTPCommand{URL: server.URL}}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewHTTPExecutor(nil).Execute(ctx, assignment(task, nil))
	if !errors.Is(err, ErrHTTPRequest) {
		t.Fatalf("expected ErrHTTPRequest, got %v", err)
	}
}

func TestHTTPExecutor_MissingTask(t *testing.T) {
	a := assignment(nil, nil)
	a.Execution.TaskID = uuid.New()

	if _, err := NewHTTPExecutor(nil).Execute(context.Background(), a); !errors.Is(err, ErrHTTPRequest) {
		t.Fatalf("expected ErrHTTPRequest, got %v", err)
	}
}

func TestHTTPExecutor_BadTemplate(t *testing.T) {
	task := &domain.Task{ID: uuid.New(), Command: domain.HTTPCommand{URL: "{{ .Vars.x "}}
	if _, err := NewHTTPExecutor(nil).Execute(context.Background(), assignment(task, nil)); err == nil {
		t.Fatal("expected render error")
	}
}

// --- VariableExecutor ---

func TestVariableExecutor(t *testing.T) {
	a := assignment(domain.SystemVariableTask(), map[string]any{
		"a_host": "{{ .Globals.host }}",
		"b_url":  "https://{{ .Vars.a_host }}/v1",
		"c_num":  7,
		"d_list": []any{"{{ .Vars.region }}", "x"},
	})
	a.GlobalVars = map[string]string{"host": "api.local"}
	a.WorkflowVars = []domain.Variable{{Name: "region", Value: "eu"}}

	if KindOf(a) != KindVariable {
		t.Fatalf("expected variable kind, got %s", KindOf(a))
	}

	out, err := (&VariableExecutor{}).Execute(context.Background(), a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vars := out.Result.Variables
	if len(vars) != 4 {
		t.Fatalf("expected 4 variables, got %+v", vars)
	}
	if vars[0].Name != "a_host" || vars[0].Value != "api.local" {
		t.Errorf("unexpected first variable %+v", vars[0])
	}
	if vars[1].Value != "https://api.local/v1" {
		t.Errorf("later assignment should see earlier one, got %v", vars[1].Value)
	}
	if vars[2].Value != 7 {
		t.Errorf("non-string values pass through, got %v", vars[2].Value)
	}
	list, ok := vars[3].Value.([]any)
	if !ok || list[0] != "eu" {
		t.Errorf("lists are rendered recursively, got %v", vars[3].Value)
	}
	if out.Result.StatusCode != 0 {
		t.Errorf("variable utility makes no HTTP request")
	}
}

// --- Extract ---

func TestExtract(t *testing.T) {
	result := &domain.ExecutionResult{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "text/plain"},
		Body:       "not json",
	}

	vars := Extract(map[string]string{
		"raw":   "body",
		"ctype": "header.content-type",
		"field": "body.a",
		"bogus": "query.x",
	}, result)

	if len(vars) != 2 {
		t.Fatalf("expected 2 variables, got %+v", vars)
	}
	if vars[0].Name != "ctype" || vars[0].Value != "text/plain" {
		t.Errorf("unexpected %+v", vars[0])
	}
	if vars[1].Name != "raw" || vars[1].Value != "not json" {
		t.Errorf("unexpected %+v", vars[1])
	}

	if got := Extract(nil, result); got != nil {
		t.Errorf("no paths should extract nothing, got %+v", got)
	}
}

func TestExtract_ArrayBounds(t *testing.T) {
	result := &domain.ExecutionResult{Body: `{"items":[{"id":1}]}`}

	vars := Extract(map[string]string{
		"first": "body.items.0.id",
		"oob":   "body.items.3.id",
		"neg":   "body.items.-1.id",
	}, result)

	if len(vars) != 1 || vars[0].Name != "first" || vars[0].Value != float64(1) {
		t.Fatalf("unexpected %+v", vars)
	}
}

func TestExtract_JSONPath(t *testing.T) {
	result := &domain.ExecutionResult{Body: `{"items":[{"id":"a"},{"id":"b"}],"meta":{"total":2}}`}

	vars := Extract(map[string]string{
		"ids":     "$.items[*].id",
		"total":   "$.meta.total",
		"missing": "$.meta.none",
		"broken":  "$.[[",
	}, result)

	if len(vars) != 2 {
		t.Fatalf("expected 2 variables, got %+v", vars)
	}
	if vars[0].Name != "ids" {
		t.Fatalf("unexpected order %+v", vars)
	}
	ids, ok := vars[0].Value.([]any)
	if !ok || len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("unexpected ids %#v", vars[0].Value)
	}
	if vars[1].Name != "total" || vars[1].Value != float64(2) {
		t.Errorf("unexpected %+v", vars[1])
	}
}

// --- Registry ---

func TestRegistry_UnknownKind(t *testing.T) {
	if _, err := NewRegistry().Get("delay"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

// --- Client ---

func TestClient_Protocol(t *testing.T) {
	execID := uuid.New()
	var lastPath string

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/workers/register", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["hostname"] != "host-1" {
			t.Errorf("unexpected hostname %v", req["hostname"])
		}
		w.Write([]byte(`{"data":{"id":"` + uuid.NewString() + `","hostname":"host-1","tags":["gpu"]}}`))
	})
	mux.HandleFunc("POST /api/v1/workers/heartbeat", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"worker not found"}}`))
	})
	mux.HandleFunc("POST /api/v1/workers/poll", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"data":null}`))
	})
	mux.HandleFunc("POST /api/v1/executions/{id}/complete", func(w http.ResponseWriter, r *http.Request) {
		lastPath = r.URL.Path
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"CONFLICT","message":"execution already finished"}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL+"/", time.Second)
	ctx := context.Background()

	w, err := client.Register(ctx, "host-1", []string{"gpu"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if w.Hostname != "host-1" {
		t.Errorf("unexpected worker %+v", w)
	}

	_, err = client.Heartbeat(ctx, "host-1")
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound || apiErr.Code != "NOT_FOUND" {
		t.Errorf("expected APIError 404, got %v", err)
	}

	a, err := client.Poll(ctx, "host-1", nil)
	if err != nil || a != nil {
		t.Fatalf("expected no work, got %v, %v", a, err)
	}

	_, err = client.Complete(ctx, execID, domain.Report{})
	if !errors.Is(err, ErrLateReport) {
		t.Fatalf("expected ErrLateReport, got %v", err)
	}
	if lastPath != "/api/v1/executions/"+execID.String()+"/complete" {
		t.Errorf("unexpected path %s", lastPath)
	}
}

// --- Worker ---

type fakeAPI struct {
	mu          sync.Mutex
	registered  int
	queue       []*dispatch.Assignment
	reports     map[uuid.UUID]domain.Report
	forgetOnce  bool
	completeErr error
	done        chan uuid.UUID
}

func newFakeAPI(queue ...*dispatch.Assignment) *fakeAPI {
	return &fakeAPI{
		queue:   queue,
		reports: make(map[uuid.UUID]domain.Report),
		done:    make(chan uuid.UUID, len(queue)+1),
	}
}

func (f *fakeAPI) Register(_ context.Context, hostname string, tags []string) (*domain.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered++
	return &domain.Worker{ID: uuid.New(), Hostname: hostname, Tags: tags}, nil
}

func (f *fakeAPI) Heartbeat(_ context.Context, hostname string) (*domain.Worker, error) {
	return &domain.Worker{Hostname: hostname}, nil
}

func (f *fakeAPI) Poll(context.Context, string, []string) (*dispatch.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forgetOnce {
		f.forgetOnce = false
		return nil, ErrNotRegistered
	}
	if len(f.queue) == 0 {
		return nil, nil
	}
	a := f.queue[0]
	f.queue = f.queue[1:]
	return a, nil
}

func (f *fakeAPI) Complete(_ context.Context, id uuid.UUID, report domain.Report) (*domain.TaskExecution, error) {
	f.mu.Lock()
	f.reports[id] = report
	err := f.completeErr
	f.mu.Unlock()

	f.done <- id
	if err != nil {
		return nil, err
	}
	return &domain.TaskExecution{ID: id, Status: domain.StatusSuccess}, nil
}

func waitReport(t *testing.T, api *fakeAPI) uuid.UUID {
	t.Helper()
	select {
	case id := <-api.done:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for report")
		return uuid.Nil
	}
}

func TestWorker_ExecutesAndReports(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	httpTask := &domain.Task{
		ID:      uuid.New(),
		Command: domain.HTTPCommand{Method: "GET", URL: server.URL},
		Extract: map[string]string{"ok": "body.ok"},
	}
	first := assignment(httpTask, nil)
	second := assignment(domain.SystemVariableTask(), map[string]any{"region": "eu"})

	api := newFakeAPI(first, second)
	api.forgetOnce = true

	w := New(Config{
		API:           api,
		Hostname:      "host-1",
		Tags:          []string{"linux"},
		PollInterval:  10 * time.Millisecond,
		RetryInterval: time.Millisecond,
	})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if id := waitReport(t, api); id != first.Execution.ID {
		t.Errorf("expected first execution reported first")
	}
	if id := waitReport(t, api); id != second.Execution.ID {
		t.Errorf("expected second execution reported second")
	}
	w.Stop()

	if !w.IsStopped() {
		t.Error("worker should be stopped")
	}

	api.mu.Lock()
	defer api.mu.Unlock()

	if api.registered < 2 {
		t.Errorf("expected re-registration after 404, registered %d times", api.registered)
	}

	r1 := api.reports[first.Execution.ID]
	if r1.Error != "" || r1.Result == nil || r1.Result.StatusCode != http.StatusOK {
		t.Errorf("unexpected http report %+v", r1)
	}
	if len(r1.Result.Variables) != 1 || r1.Result.Variables[0].Value != true {
		t.Errorf("expected extracted ok=true, got %+v", r1.Result.Variables)
	}

	r2 := api.reports[second.Execution.ID]
	if r2.Result == nil || len(r2.Result.Variables) != 1 || r2.Result.Variables[0].Value != "eu" {
		t.Errorf("unexpected variable report %+v", r2)
	}
}

func TestWorker_TransportErrorReported(t *testing.T) {
	task := &domain.Task{ID: uuid.New(), Command: domain.HTTPCommand{URL: "http://127.0.0.1:1/unreachable"}}
	a := assignment(task, nil)

	api := newFakeAPI(a)
	api.completeErr = ErrLateReport

	w := New(Config{API: api, Hostname: "host-1", PollInterval: 10 * time.Millisecond})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitReport(t, api)
	w.Stop()

	api.mu.Lock()
	defer api.mu.Unlock()
	if api.reports[a.Execution.ID].Error == "" {
		t.Error("transport error should be reported in Report.Error")
	}
	if len(api.done) != 0 {
		t.Error("late report must not be retried")
	}
}

func TestWorker_RequiresHostname(t *testing.T) {
	w := New(Config{API: newFakeAPI()})
	if err := w.Start(context.Background()); !errors.Is(err, ErrNoHostname) {
		t.Fatalf("expected ErrNoHostname, got %v", err)
	}
}
