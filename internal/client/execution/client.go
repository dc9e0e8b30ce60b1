package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Client submits approved packages to the downstream execution intake.
// The intake de-duplicates by package id, so retries are safe.
type Client struct {
	host       string
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("execution intake error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, host string) *Client {
	host = strings.TrimRight(host, "/")
	return &Client{host: host, httpClient: httpClient}
}

// SubmitRequest is the approved-package handoff payload.
type SubmitRequest struct {
	PackageID        string `json:"package_id"`
	SourceStrategyID string `json:"source_strategy_id"`
	Symbol           string `json:"symbol"`
	Amount           string `json:"amount"`
	RiskLevel        string `json:"risk_level"`

	ApprovedAmount string          `json:"approved_amount,omitempty"`
	PositionLimit  string          `json:"position_limit,omitempty"`
	Parameters     json.RawMessage `json:"parameters,omitempty"`
}

func (c *Client) SubmitApprovedPackage(ctx context.Context, req SubmitRequest) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/v1/packages", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return nil
}
