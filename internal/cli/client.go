package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrRunFailed — дождались run, и он завершился с FAILED.
var ErrRunFailed = errors.New("run failed")

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// RunResponse — run из API.
type RunResponse struct {
	ID           string               `json:"id"`
	State        string               `json:"state"`
	DisplayName  string               `json:"display_name"`
	Database     string               `json:"database,omitempty"`
	Source       string               `json:"source,omitempty"`
	RequestedBy  string               `json:"requested_by,omitempty"`
	CurrentStep  string               `json:"current_step,omitempty"`
	StepDeadline string               `json:"step_deadline,omitempty"`
	Steps        []StepResultResponse `json:"steps"`
	FailedStep   string               `json:"failed_step,omitempty"`
	ErrorCode    string               `json:"error_code,omitempty"`
	Error        string               `json:"error,omitempty"`
	CreatedAt    string               `json:"created_at"`
	StartedAt    string               `json:"started_at,omitempty"`
	FinishedAt   string               `json:"finished_at,omitempty"`
	DurationMs   int64                `json:"duration_ms,omitempty"`
}

// IsFinished — run в SUCCEEDED или FAILED.
func (r *RunResponse) IsFinished() bool {
	return r.State == "SUCCEEDED" || r.State == "FAILED"
}

// StepResultResponse — результат шага из API.
type StepResultResponse struct {
	Step         string          `json:"step"`
	InvocationID string          `json:"invocation_id"`
	Success      bool            `json:"success"`
	Output       json.RawMessage `json:"output,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	Error        string          `json:"error,omitempty"`
	StartedAt    string          `json:"started_at"`
	FinishedAt   string          `json:"finished_at"`
	DurationMs   int64           `json:"duration_ms"`
}

// --- Request types ---

// StartRunRequest — запуск workflow.
type StartRunRequest struct {
	Database    string `json:"database,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	State  string
	Limit  int
	Offset int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для metamigrate API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Runs ---

// StartRun запускает workflow. Возвращается сразу, run ещё не завершён.
func (c *Client) StartRun(ctx context.Context, req StartRunRequest) (*RunResponse, error) {
	var run RunResponse
	err := c.doData(ctx, http.MethodPost, "/api/v1/runs", req, &run)
	return &run, err
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(ctx context.Context, id string) (*RunResponse, error) {
	var run RunResponse
	err := c.doData(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(id), nil, &run)
	return &run, err
}

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(ctx context.Context, opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.State != "" {
		params.Set("state", opts.State)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	path := "/api/v1/runs"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var runs []RunResponse
	err := c.doData(ctx, http.MethodGet, path, nil, &runs)
	return runs, err
}

// WaitRun опрашивает run, пока он не завершится или не отменят ctx.
func (c *Client) WaitRun(ctx context.Context, id string, interval time.Duration) (*RunResponse, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		run, err := c.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if run.IsFinished() {
			return run, nil
		}

		select {
		case <-ctx.Done():
			return run, fmt.Errorf("run %s still %s: %w", id, run.State, ctx.Err())
		case <-ticker.C:
		}
	}
}

// --- HTTP helpers ---

func (c *Client) doData(ctx context.Context, method, path string, body any, result any) error {
	resp, err := c.do(ctx, method, path, body)
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

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
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
