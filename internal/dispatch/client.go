package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"renderstudio/internal/domain"
)

// DispatchPath is the renderer endpoint that accepts dispatch requests.
const DispatchPath = "/api/render/dispatch"

// DefaultTimeout bounds a single dispatch round trip.
const DefaultTimeout = 10 * time.Minute

// Request is the body sent to the renderer.
type Request struct {
	JobFolder  string            `json:"job_folder"`
	Parameters domain.Parameters `json:"parameters"`
}

// Result is the renderer's successful answer.
type Result struct {
	Status    string           `json:"status"`
	JobFolder string           `json:"job_folder"`
	Record    domain.JobRecord `json:"record"`
}

type errorBody struct {
	Detail any `json:"detail"`
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client sends dispatch requests to the renderer. It never retries and never
// touches local job state; callers decide what a failure means.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient constructs a dispatch client.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("dispatch: renderer base url is required")
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: baseURL, httpClient: client, logger: opts.Logger}, nil
}

// BaseURL returns the renderer base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Dispatch posts the job folder and parameters to the renderer. Any failure
// is returned as *Error.
func (c *Client) Dispatch(ctx context.Context, folder string, params domain.Parameters) (*Result, error) {
	if params == nil {
		params = domain.Parameters{}
	}
	body, err := json.Marshal(Request{JobFolder: folder, Parameters: params})
	if err != nil {
		return nil, fmt.Errorf("dispatch: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+DispatchPath, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Code: CodeTransportFailed, Detail: err.Error(), err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("job_folder", folder).Msg("dispatch: renderer unreachable")
		return nil, &Error{Code: CodeTransportFailed, Detail: err.Error(), err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Code: CodeTransportFailed, Detail: err.Error(), err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		dispatchErr := &Error{
			Code:       CodeProtocolFailed,
			StatusCode: resp.StatusCode,
			Detail:     extractDetail(raw),
			Raw:        truncate(raw),
		}
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("job_folder", folder).
			Str("detail", dispatchErr.Detail).
			Msg("dispatch: renderer rejected request")
		return nil, dispatchErr
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &Error{Code: CodeDecodeFailed, StatusCode: resp.StatusCode, Raw: truncate(raw), err: err}
	}
	if result.Status != "ok" || result.Record.JobID == "" {
		return nil, &Error{
			Code:       CodeDecodeFailed,
			StatusCode: resp.StatusCode,
			Raw:        truncate(raw),
			err:        fmt.Errorf("unexpected renderer response (status %q, job id %q)", result.Status, result.Record.JobID),
		}
	}

	c.logger.Debug().
		Str("job_folder", folder).
		Str("status", string(result.Record.Status)).
		Dur("elapsed", time.Since(started)).
		Msg("dispatch: renderer accepted job")
	return &result, nil
}

// extractDetail pulls the detail field out of a JSON error body.
func extractDetail(raw []byte) string {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Detail == nil {
		return ""
	}
	if s, ok := body.Detail.(string); ok {
		return s
	}
	encoded, err := json.Marshal(body.Detail)
	if err != nil {
		return ""
	}
	return string(encoded)
}
