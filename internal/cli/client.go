package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// --- Response types (дублируются из domain, CLI не импортирует internal/api) ---

// WorkerResponse — worker из API.
type WorkerResponse struct {
	ID        string   `json:"id"`
	Hostname  string   `json:"hostname"`
	IPAddress string   `json:"ip_address,omitempty"`
	Tags      []string `json:"tags"`
	Status    string   `json:"status"`
	LastSeen  string   `json:"last_seen"`
	CreatedAt string   `json:"created_at"`
}

// RunResponse — workflow run из API.
type RunResponse struct {
	ID                string `json:"id"`
	WorkflowID        string `json:"workflow_id"`
	WorkflowName      string `json:"workflow_name"`
	WorkflowVersion   int    `json:"workflow_version"`
	Status            string `json:"status"`
	TriggeredBy       string `json:"triggered_by"`
	UserID            string `json:"user_id,omitempty"`
	ParentExecutionID string `json:"parent_execution_id,omitempty"`
	TargetWorkerID    string `json:"target_worker_id,omitempty"`
	Error             string `json:"error,omitempty"`
	StartedAt         string `json:"started_at"`
	CompletedAt       string `json:"completed_at,omitempty"`
	DurationMs        int64  `json:"duration_ms"`
}

// LaunchResponse — результат запуска workflow.
type LaunchResponse struct {
	Run      RunResponse   `json:"run"`
	Children []RunResponse `json:"children"`
}

// RunDetailResponse — run с executions.
type RunDetailResponse struct {
	Run        RunResponse         `json:"run"`
	Executions []ExecutionResponse `json:"executions,omitempty"`
}

// ExecutionResponse — task execution из API.
type ExecutionResponse struct {
	ID                  string         `json:"id"`
	TaskID              string         `json:"task_id"`
	WorkflowExecutionID string         `json:"workflow_execution_id,omitempty"`
	NodeID              string         `json:"node_id,omitempty"`
	Status              string         `json:"status"`
	TargetWorkerID      string         `json:"target_worker_id,omitempty"`
	TargetTags          []string       `json:"target_tags"`
	WorkerID            string         `json:"worker_id,omitempty"`
	Input               map[string]any `json:"input,omitempty"`
	Result              map[string]any `json:"result,omitempty"`
	Error               string         `json:"error,omitempty"`
	CreatedAt           string         `json:"created_at"`
	StartedAt           string         `json:"started_at,omitempty"`
	CompletedAt         string         `json:"completed_at,omitempty"`
	DurationMs          int64          `json:"duration_ms"`
}

// TagResponse — использование тега.
type TagResponse struct {
	Tag       string `json:"tag"`
	Workers   int    `json:"workers"`
	Tasks     int    `json:"tasks"`
	Workflows int    `json:"workflows"`
}

// --- Request types ---

// LaunchRequest — запуск workflow.
type LaunchRequest struct {
	TriggeredBy string `json:"triggered_by,omitempty"`
	UserID      string `json:"user_id,omitempty"`
}

// ExecuteTaskRequest — разовый запуск task.
type ExecuteTaskRequest struct {
	TargetWorkerID string   `json:"target_worker_id,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	WorkflowID string
	ParentID   string
	Status     string
	Limit      int
	Offset     int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Relay API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Workflows и tasks ---

// LaunchWorkflow запускает workflow.
func (c *Client) LaunchWorkflow(workflowID string, req LaunchRequest) (*LaunchResponse, error) {
	var res LaunchResponse
	err := c.post("/api/v1/workflows/"+workflowID+"/launch", req, &res)
	return &res, err
}

// ExecuteTask создаёт standalone execution.
func (c *Client) ExecuteTask(taskID string, req ExecuteTaskRequest) (*ExecutionResponse, error) {
	var e ExecutionResponse
	err := c.post("/api/v1/tasks/"+taskID+"/execute", req, &e)
	return &e, err
}

// --- Runs ---

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.WorkflowID != "" {
		params.Set("workflow_id", opts.WorkflowID)
	}
	if opts.ParentID != "" {
		params.Set("parent_id", opts.ParentID)
	}
	if opts.Status != "" {
		params.Set("status", strings.ToUpper(opts.Status))
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	var runs []RunResponse
	err := c.list("/api/v1/runs", params, &runs)
	return runs, err
}

// GetRun возвращает run. withExecutions — вместе с executions.
func (c *Client) GetRun(id string, withExecutions bool) (*RunDetailResponse, error) {
	path := "/api/v1/runs/" + id
	if withExecutions {
		path += "?include=executions"
	}

	var detail RunDetailResponse
	err := c.get(path, &detail)
	return &detail, err
}

// ListRunExecutions возвращает executions run.
func (c *Client) ListRunExecutions(runID string) ([]ExecutionResponse, error) {
	var execs []ExecutionResponse
	err := c.list("/api/v1/runs/"+runID+"/executions", nil, &execs)
	return execs, err
}

// TerminateRun принудительно завершает run.
func (c *Client) TerminateRun(id, reason string) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/runs/"+id+"/terminate", map[string]string{"reason": reason}, &run)
	return &run, err
}

// --- Executions ---

// GetExecution возвращает execution по ID.
func (c *Client) GetExecution(id string) (*ExecutionResponse, error) {
	var e ExecutionResponse
	err := c.get("/api/v1/executions/"+id, &e)
	return &e, err
}

// --- Workers ---

// ListWorkers возвращает всех worker'ов.
func (c *Client) ListWorkers() ([]WorkerResponse, error) {
	var workers []WorkerResponse
	err := c.list("/api/v1/workers", nil, &workers)
	return workers, err
}

// GetWorker возвращает worker'а по ID.
func (c *Client) GetWorker(id string) (*WorkerResponse, error) {
	var w WorkerResponse
	err := c.get("/api/v1/workers/"+id, &w)
	return &w, err
}

// SetWorkerTags заменяет теги worker'а.
func (c *Client) SetWorkerTags(id string, tags []string) (*WorkerResponse, error) {
	if tags == nil {
		tags = []string{}
	}
	var w WorkerResponse
	err := c.put("/api/v1/workers/"+id+"/tags", map[string][]string{"tags": tags}, &w)
	return &w, err
}

// SetWorkerEnabled включает или отключает worker'а.
func (c *Client) SetWorkerEnabled(id string, enabled bool) (*WorkerResponse, error) {
	var w WorkerResponse
	err := c.put("/api/v1/workers/"+id+"/enabled", map[string]bool{"enabled": enabled}, &w)
	return &w, err
}

// ListTags возвращает производный список тегов.
func (c *Client) ListTags() ([]TagResponse, error) {
	var tags []TagResponse
	err := c.list("/api/v1/tags", nil, &tags)
	return tags, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
