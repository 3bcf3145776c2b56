package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shaiso/Relay/internal/dispatch"
	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/engine"
)

// maxBodySize — ограничение тела ответа, сохраняемого в результате.
const maxBodySize = 1 << 20

// HTTPExecutor выполняет HTTP-команду task.
//
// URL, заголовки и тело рендерятся шаблонами против глобальных
// переменных, переменных run и macros (см. engine.Context).
// Параметры узла доступны как {{ .Params.name }}.
//
// Ответ любого кода — не ошибка: код интерпретирует сервер.
type HTTPExecutor struct {
	client *http.Client
}

// NewHTTPExecutor создаёт executor. nil — клиент без таймаута,
// таймаут задаётся контекстом выполнения.
func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPExecutor{client: client}
}

// Execute выполняет запрос.
func (e *HTTPExecutor) Execute(ctx context.Context, a *dispatch.Assignment) (*Output, error) {
	if a.Task == nil {
		return nil, fmt.Errorf("%w: task %s not found in catalog", ErrHTTPRequest, a.Execution.TaskID)
	}

	tctx := engine.NewContext(a.GlobalVars, a.WorkflowVars, a.Macros)
	for k, v := range a.Execution.Params {
		tctx.Params[k] = v
	}

	cmd, err := engine.RenderCommand(a.Task.Command, tctx)
	if err != nil {
		return nil, fmt.Errorf("render command: %w", err)
	}
	out := &Output{Input: commandInput(cmd)}

	method := strings.ToUpper(cmd.Method)
	if method == "" {
		method = http.MethodGet
	}
	if cmd.URL == "" {
		return out, fmt.Errorf("%w: url is required", ErrHTTPRequest)
	}

	var body io.Reader
	if cmd.Body != "" {
		body = strings.NewReader(cmd.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, cmd.URL, body)
	if err != nil {
		return out, fmt.Errorf("%w: create request: %v", ErrHTTPRequest, err)
	}
	for k, v := range cmd.Headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrHTTPRequest, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return out, fmt.Errorf("%w: read response: %v", ErrHTTPRequest, err)
	}

	result := &domain.ExecutionResult{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeaders(resp.Header),
		Body:       string(respBody),
	}
	result.Variables = Extract(a.Task.Extract, result)
	out.Result = result
	return out, nil
}

func commandInput(cmd domain.HTTPCommand) map[string]any {
	input := map[string]any{
		"method": cmd.Method,
		"url":    cmd.URL,
	}
	if len(cmd.Headers) > 0 {
		input["headers"] = cmd.Headers
	}
	if cmd.Body != "" {
		input["body"] = cmd.Body
	}
	return input
}

func flattenHeaders(h http.Header) map[string]string {
	headers := make(map[string]string, len(h))
	for key := range h {
		headers[key] = h.Get(key)
	}
	return headers
}
