package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mtfcascade/internal/service"
)

// Client calls a remote indicator service over HTTP JSON.
type Client struct {
	host       string
	apiKey     string
	httpClient *http.Client
}

var _ service.SignalEvaluator = (*Client)(nil)

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("evaluator API error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, host, apiKey string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		host:       strings.TrimRight(host, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: httpClient,
	}
}

// Evaluate posts the request to /v1/evaluate. The caller's context bounds the call.
func (c *Client) Evaluate(ctx context.Context, req service.EvaluationRequest) (service.EvaluationResult, error) {
	var out service.EvaluationResult
	if c.host == "" {
		return out, fmt.Errorf("evaluator base url is not configured")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return out, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/v1/evaluate", bytes.NewReader(payload))
	if err != nil {
		return out, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return out, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return out, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return out, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	out.Status = strings.ToUpper(strings.TrimSpace(out.Status))
	out.Side = strings.ToUpper(strings.TrimSpace(out.Side))
	if out.Side == "" {
		out.Side = "NONE"
	}
	return out, nil
}
