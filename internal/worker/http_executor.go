package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/shaiso/metamigrate/internal/domain"
)

// maxErrorBody — сколько байт тела ответа попадает в сообщение об ошибке.
const maxErrorBody = 2048

// HTTPExecutor отправляет вход шага JSON POST'ом на Target.Name.
//
// Нужен для локальной разработки и для backends, доступных по HTTP.
// 2xx — успех, тело ответа становится Output. Иначе неуспех с кодом
// и телом ответа в сообщении.
type HTTPExecutor struct {
	client *http.Client
}

// NewHTTPExecutor создаёт executor; nil client даёт http.DefaultClient.
// Таймаут берётся из ctx, поэтому у клиента его задавать не нужно.
func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPExecutor{client: client}
}

// Execute выполняет запрос.
func (e *HTTPExecutor) Execute(ctx context.Context, inv *domain.StepInvocation) (*Outcome, error) {
	body, err := json.Marshal(inv.Input)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal body: %v", ErrInvoke, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inv.Target.Name, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrInvoke, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Run-ID", inv.RunID.String())
	req.Header.Set("X-Invocation-ID", inv.ID.String())
	if inv.Mode == domain.ModeAsync {
		req.Header.Set("Prefer", "respond-async")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrInvoke, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Outcome{
			Output: validJSON(respBody),
			Error:  fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(respBody), maxErrorBody)),
		}, nil
	}

	return &Outcome{Output: validJSON(respBody)}, nil
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
