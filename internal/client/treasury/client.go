package treasury

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the external treasury/budget service.
type Client struct {
	host       string
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("treasury error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, host string) *Client {
	host = strings.TrimRight(host, "/")
	return &Client{host: host, httpClient: httpClient}
}

// ApplyRequest asks for funding of a package.
type ApplyRequest struct {
	PackageID       string `json:"package_id"`
	Symbol          string `json:"symbol"`
	RequestedAmount string `json:"requested_amount"`
	RiskLevel       string `json:"risk_level"`
}

// ApplyResponse carries the treasury's funding decision.
type ApplyResponse struct {
	ApprovedAmount string     `json:"approved_amount"`
	Status         string     `json:"status"`
	Conditions     []string   `json:"conditions"`
	AppliedAt      time.Time  `json:"applied_at"`
	ApprovedAt     *time.Time `json:"approved_at"`
}

func (c *Client) ApplyBudget(ctx context.Context, req ApplyRequest) (*ApplyResponse, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/v1/budget/apply", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	var out ApplyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode apply response: %w", err)
	}
	return &out, nil
}
