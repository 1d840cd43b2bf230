// Package sweepclient предоставляет клиент для запуска обхода эскроу по HTTP.
package sweepclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mybizhub/escrow-ledger/internal/escrow"
)

// Client инкапсулирует HTTP-взаимодействие с сервисом эскроу.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type sweepResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	escrow.SweepResult
}

// NewClient создаёт клиент для сервиса по указанному адресу.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Trigger запускает один обход и возвращает его счётчики.
func (c *Client) Trigger(ctx context.Context) (escrow.SweepResult, error) {
	if c == nil || c.baseURL == "" {
		return escrow.SweepResult{}, fmt.Errorf("sweep client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/escrow/sweep", nil)
	if err != nil {
		return escrow.SweepResult{}, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return escrow.SweepResult{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var body sweepResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		if resp.StatusCode != http.StatusOK {
			return escrow.SweepResult{}, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}
		return escrow.SweepResult{}, fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || !body.OK {
		return escrow.SweepResult{}, fmt.Errorf("unexpected status: %d: %s", resp.StatusCode, body.Error)
	}

	return body.SweepResult, nil
}
