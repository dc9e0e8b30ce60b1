package riskscore

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

// Client talks to the external risk-scoring service.
type Client struct {
	host       string
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("risk service error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, host string) *Client {
	host = strings.TrimRight(host, "/")
	return &Client{host: host, httpClient: httpClient}
}

// ScoreRequest is the payload sent for scoring.
type ScoreRequest struct {
	PackageID string `json:"package_id"`
	Symbol    string `json:"symbol"`
	Amount    string `json:"amount"`
	Priority  int    `json:"priority"`

	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// ScoreResponse is the raw risk view returned by the service.
type ScoreResponse struct {
	RiskScore       float64   `json:"risk_score"`
	RiskLevel       string    `json:"risk_level"`
	RiskFactors     []string  `json:"risk_factors"`
	Recommendations []string  `json:"recommendations"`
	Approved        bool      `json:"approved"`
	AssessedAt      time.Time `json:"assessed_at"`
}

func (c *Client) ScorePackage(ctx context.Context, req ScoreRequest) (*ScoreResponse, error) {
	body, err := c.doPost(ctx, "/v1/score", req)
	if err != nil {
		return nil, err
	}
	var out ScoreResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode score response: %w", err)
	}
	return &out, nil
}

func (c *Client) doPost(ctx context.Context, path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
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
	return body, nil
}
