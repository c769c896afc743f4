package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shaiso/Conveyor/internal/trigger"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// RunResponse — run из API.
type RunResponse struct {
	ID          string         `json:"id"`
	Pipeline    string         `json:"pipeline"`
	RunnerLabel string         `json:"runner_label"`
	Status      string         `json:"status"`
	Event       EventInfo      `json:"event"`
	FailedStep  string         `json:"failed_step,omitempty"`
	FailureKind string         `json:"failure_kind,omitempty"`
	CacheKey    string         `json:"cache_key,omitempty"`
	StartedAt   string         `json:"started_at,omitempty"`
	FinishedAt  string         `json:"finished_at,omitempty"`
	DurationMs  int64          `json:"duration_ms,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   string         `json:"created_at"`
	Steps       []StepResponse `json:"steps,omitempty"`
}

// EventInfo — событие, запустившее run.
type EventInfo struct {
	Type       string `json:"type"`
	Action     string `json:"action,omitempty"`
	Ref        string `json:"ref,omitempty"`
	BaseRef    string `json:"base_ref,omitempty"`
	SHA        string `json:"sha,omitempty"`
	Repository string `json:"repository,omitempty"`
}

// StepResponse — результат шага из API.
type StepResponse struct {
	StepID     string         `json:"step_id"`
	Name       string         `json:"name"`
	Kind       string         `json:"kind"`
	Status     string         `json:"status"`
	ExitCode   int            `json:"exit_code"`
	DurationMs int64          `json:"duration_ms"`
	Output     string         `json:"output,omitempty"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	Error      string         `json:"error,omitempty"`
	Advisory   bool           `json:"advisory,omitempty"`
}

// EventResponse — результат отправки события.
type EventResponse struct {
	Matched bool          `json:"matched"`
	Reason  string        `json:"reason,omitempty"`
	Runs    []RunResponse `json:"runs,omitempty"`
}

// --- Request types ---

// CreateRunRequest — ручной запуск.
type CreateRunRequest struct {
	Ref string `json:"ref,omitempty"`
	SHA string `json:"sha,omitempty"`
}

// ListRunsOpts — фильтры для списка runs.
type ListRunsOpts struct {
	Pipeline string
	Status   string
	Limit    int
	Offset   int
}

// --- Internal response wrappers ---

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

// APIError — ошибка, которую вернул сервер.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Client — HTTP-клиент для Conveyor API.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	webhookSecret string
}

// NewClient создаёт клиент для API по адресу baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithWebhookSecret включает подпись тел запросов (X-Hub-Signature-256).
func (c *Client) WithWebhookSecret(secret string) *Client {
	c.webhookSecret = secret
	return c
}

// --- Runs ---

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(ctx context.Context, opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.Pipeline != "" {
		params.Set("pipeline", opts.Pipeline)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	var runs []RunResponse
	err := c.list(ctx, "/api/v1/runs", params, &runs)
	return runs, err
}

// Trigger запускает pipeline вручную.
func (c *Client) Trigger(ctx context.Context, req CreateRunRequest) ([]RunResponse, error) {
	var runs []RunResponse
	err := c.post(ctx, "/api/v1/runs", req, &runs)
	return runs, err
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(ctx context.Context, id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id), &run)
	return &run, err
}

// ListSteps возвращает результаты шагов run.
func (c *Client) ListSteps(ctx context.Context, runID string) ([]StepResponse, error) {
	var steps []StepResponse
	err := c.list(ctx, "/api/v1/runs/"+url.PathEscape(runID)+"/steps", nil, &steps)
	return steps, err
}

// CancelRun отменяет run.
func (c *Client) CancelRun(ctx context.Context, id string) error {
	return c.post(ctx, "/api/v1/runs/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// --- Events ---

// SendEvent отправляет событие-триггер.
func (c *Client) SendEvent(ctx context.Context, event EventInfo) (*EventResponse, error) {
	var resp EventResponse
	err := c.post(ctx, "/api/v1/events", event, &resp)
	return &resp, err
}

// --- HTTP helpers ---

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.doData(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	return c.doData(ctx, http.MethodPost, path, body, result)
}

func (c *Client) list(ctx context.Context, path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
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

func (c *Client) doData(ctx context.Context, method, path string, body any, result any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNoContent || result == nil {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return json.Unmarshal(dr.Data, result)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	var signature string
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
		signature = c.sign(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if signature != "" {
		req.Header.Set(trigger.SignatureHeader, signature)
	}

	return c.httpClient.Do(req)
}

func (c *Client) sign(data []byte) string {
	if c.webhookSecret == "" {
		return ""
	}
	return trigger.Sign(c.webhookSecret, data)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return &APIError{Status: resp.StatusCode}
	}

	return &APIError{Status: resp.StatusCode, Code: er.Error.Code, Message: er.Error.Message}
}
