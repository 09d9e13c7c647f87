package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// HTTPOptions configures an HTTPEngine.
type HTTPOptions struct {
	Name       string
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// HTTPEngine drives a remote inference server over JSON/HTTP.
type HTTPEngine struct {
	name        string
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	logger      zerolog.Logger
	initialized atomic.Bool
}

type generateResponse struct {
	Image  string   `json:"image"`
	Images []string `json:"images"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// NewHTTPEngine constructs an engine. It stays uninitialized until Probe succeeds.
func NewHTTPEngine(opts HTTPOptions) (*HTTPEngine, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("engine: base url is required")
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = "sd35"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPEngine{
		name:       name,
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: client,
		logger:     opts.Logger,
	}, nil
}

func (e *HTTPEngine) Name() string { return e.name }

func (e *HTTPEngine) Initialized() bool { return e.initialized.Load() }

// Probe checks the remote health endpoint and marks the engine ready.
func (e *HTTPEngine) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("create probe request: %w", err)
	}
	e.authorize(req)
	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.initialized.Store(false)
		return fmt.Errorf("probe engine: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		e.initialized.Store(false)
		return fmt.Errorf("probe engine status %d", resp.StatusCode)
	}
	e.initialized.Store(true)
	e.logger.Info().Str("engine", e.name).Str("base_url", e.baseURL).Msg("engine: ready")
	return nil
}

// Watch re-probes the engine every interval until ctx is done, so a server
// that comes up late (or goes away) is reflected in Initialized.
func (e *HTTPEngine) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			was := e.Initialized()
			probeCtx, cancel := context.WithTimeout(ctx, interval)
			err := e.Probe(probeCtx)
			cancel()
			if err != nil && was {
				e.logger.Warn().Err(err).Str("engine", e.name).Msg("engine: lost, renderer falls back to skeleton")
			}
		}
	}
}

// Generate posts the request to /v1/text2img and decodes the base64 PNG reply.
func (e *HTTPEngine) Generate(ctx context.Context, req Text2Image) ([]byte, error) {
	if !e.Initialized() {
		return nil, errors.New("engine not initialized")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/text2img", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	e.authorize(httpReq)

	started := time.Now()
	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("invoke engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr errorResponse
		data, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(data, &apiErr); err == nil {
			if msg := firstNonEmpty(apiErr.Detail, apiErr.Error); msg != "" {
				return nil, fmt.Errorf("engine status %d: %s", resp.StatusCode, msg)
			}
		}
		if len(data) > 0 {
			return nil, fmt.Errorf("engine status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return nil, fmt.Errorf("engine status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode engine response: %w", err)
	}
	encoded := out.Image
	if encoded == "" && len(out.Images) > 0 {
		encoded = out.Images[0]
	}
	if encoded == "" {
		return nil, errors.New("engine returned no image")
	}
	if idx := strings.Index(encoded, ","); strings.HasPrefix(encoded, "data:") && idx > 0 {
		encoded = encoded[idx+1:]
	}
	img, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode image data: %w", err)
	}

	e.logger.Debug().
		Str("engine", e.name).
		Int("width", req.Width).
		Int("height", req.Height).
		Dur("elapsed", time.Since(started)).
		Msg("engine: generated image")
	return img, nil
}

func (e *HTTPEngine) authorize(req *http.Request) {
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
