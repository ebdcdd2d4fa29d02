// ABOUTME: Render strategy that posts the job to an internal render pipeline over HTTP
// ABOUTME: Retries transport errors and 5xx responses with exponential backoff

package render

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

	"github.com/cenkalti/backoff/v4"
)

// StrategyPipeline is the usedFn name of the pipeline strategy.
const StrategyPipeline = "pipeline"

// Pipeline renders through an internal HTTP render service.
type Pipeline struct {
	url             string
	token           string
	httpClient      *http.Client
	maxRetries      uint64
	initialInterval time.Duration
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithRetry sets the retry budget and the first backoff interval.
func WithRetry(maxRetries uint64, initial time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.maxRetries = maxRetries
		p.initialInterval = initial
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) PipelineOption {
	return func(p *Pipeline) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// NewPipeline creates a pipeline strategy posting to url.
func NewPipeline(url, token string, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		url:             url,
		token:           token,
		httpClient:      &http.Client{Timeout: 60 * time.Second},
		maxRetries:      3,
		initialInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns "pipeline".
func (p *Pipeline) Name() string { return StrategyPipeline }

// Render posts the request and returns the pipeline's JSON object.
func (p *Pipeline) Render(ctx context.Context, req Request) (map[string]any, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.initialInterval
	eb.MaxElapsedTime = 0 // bounded by maxRetries and ctx instead

	var out map[string]any
	op := func() error {
		result, err := p.post(ctx, body)
		if err != nil {
			return err
		}
		out = result
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, p.maxRetries), ctx)); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) post(ctx context.Context, body []byte) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("render pipeline returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if resp.StatusCode >= 300 {
		return nil, backoff.Permanent(fmt.Errorf("render pipeline returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decoding render pipeline response: %w", err))
	}
	if msg, ok := out["error"].(string); ok && msg != "" {
		return nil, backoff.Permanent(errors.New(msg))
	}
	return out, nil
}
