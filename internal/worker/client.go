package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Relay/internal/dispatch"
	"github.com/shaiso/Relay/internal/domain"
)

// Client — клиент протокола worker'а relay-api.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент. Таймаут запроса должен быть меньше
// интервала poll, чтобы зависший API не останавливал агента надолго.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type registerRequest struct {
	Hostname string   `json:"hostname"`
	Tags     []string `json:"tags,omitempty"`
}

type hostnameRequest struct {
	Hostname string   `json:"hostname"`
	Tags     []string `json:"tags,omitempty"`
}

// Register регистрирует агента. Теги применяются только при первой регистрации.
func (c *Client) Register(ctx context.Context, hostname string, tags []string) (*domain.Worker, error) {
	var w domain.Worker
	err := c.post(ctx, "/api/v1/workers/register", registerRequest{Hostname: hostname, Tags: tags}, &w)
	return &w, err
}

// Heartbeat обновляет last_seen агента.
func (c *Client) Heartbeat(ctx context.Context, hostname string) (*domain.Worker, error) {
	var w domain.Worker
	err := c.post(ctx, "/api/v1/workers/heartbeat", hostnameRequest{Hostname: hostname}, &w)
	return &w, err
}

// Poll запрашивает работу. nil без ошибки — работы нет.
func (c *Client) Poll(ctx context.Context, hostname string, tags []string) (*dispatch.Assignment, error) {
	var a *dispatch.Assignment
	if err := c.post(ctx, "/api/v1/workers/poll", hostnameRequest{Hostname: hostname, Tags: tags}, &a); err != nil {
		return nil, err
	}
	return a, nil
}

// Complete отправляет отчёт о выполнении.
func (c *Client) Complete(ctx context.Context, executionID uuid.UUID, report domain.Report) (*domain.TaskExecution, error) {
	var e domain.TaskExecution
	err := c.post(ctx, "/api/v1/executions/"+executionID.String()+"/complete", report, &e)
	return &e, err
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(envelope.Data, result)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &body) == nil {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return errors.Join(ErrNotRegistered, apiErr)
	case http.StatusConflict:
		return errors.Join(ErrLateReport, apiErr)
	}
	return apiErr
}
