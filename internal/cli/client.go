package cli

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

// apiClient talks to the planner and renderer HTTP surfaces.
type apiClient struct {
	plannerURL  string
	rendererURL string
	http        *http.Client
}

func newAPIClient(plannerURL, rendererURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		plannerURL:  strings.TrimRight(plannerURL, "/"),
		rendererURL: strings.TrimRight(rendererURL, "/"),
		http:        &http.Client{Timeout: timeout},
	}
}

// apiError is a non-2xx response. Body is kept for printing.
type apiError struct {
	StatusCode int
	Body       []byte
}

func (e *apiError) Error() string {
	var payload struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(e.Body, &payload) == nil && (payload.Error != "" || payload.Detail != "") {
		if payload.Error == "" {
			return fmt.Sprintf("status %d: %s", e.StatusCode, payload.Detail)
		}
		return fmt.Sprintf("status %d: %s: %s", e.StatusCode, payload.Error, payload.Detail)
	}
	return fmt.Sprintf("status %d", e.StatusCode)
}

func (c *apiClient) do(ctx context.Context, method, url string, body any) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return data, resp.StatusCode, &apiError{StatusCode: resp.StatusCode, Body: data}
	}
	return data, resp.StatusCode, nil
}

func (c *apiClient) planner(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	return c.do(ctx, method, c.plannerURL+path, body)
}

func (c *apiClient) renderer(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	return c.do(ctx, method, c.rendererURL+path, body)
}
