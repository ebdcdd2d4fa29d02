// ABOUTME: Render strategy that asks an OpenAI-compatible chat completion endpoint for the finished post
// ABOUTME: Used as the fallback when the internal render pipeline is unavailable

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

	"gopkg.in/yaml.v3"
)

// StrategyCompletion is the usedFn name of the completion strategy.
const StrategyCompletion = "completion"

const completionSystemPrompt = `You turn a content brief into a finished social post or script.
Return only the finished content, no commentary.`

// Completion renders by prompting a chat completion model.
type Completion struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewCompletion creates a completion strategy. baseURL is the API root, for
// example https://openrouter.ai/api/v1.
func NewCompletion(baseURL, apiKey, model string, client *http.Client) *Completion {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &Completion{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: client,
	}
}

// Name returns "completion".
func (c *Completion) Name() string { return StrategyCompletion }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Render sends the brief and returns {content, model, completion_id}.
func (c *Completion) Render(ctx context.Context, req Request) (map[string]any, error) {
	prompt, err := buildPrompt(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: completionSystemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var out chatResponse
	decodeErr := json.Unmarshal(raw, &out)
	if out.Error != nil && out.Error.Message != "" {
		return nil, errors.New(out.Error.Message)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("completion endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decoding response: %w", decodeErr)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return nil, errors.New("completion returned no content")
	}

	return map[string]any{
		"content":       out.Choices[0].Message.Content,
		"model":         out.Model,
		"completion_id": out.ID,
	}, nil
}

// buildPrompt lays the parsed instructions out as YAML above the raw brief.
func buildPrompt(req Request) (string, error) {
	var b strings.Builder
	if len(req.Instructions) > 0 {
		data, err := yaml.Marshal(req.Instructions)
		if err != nil {
			return "", fmt.Errorf("marshaling instructions: %w", err)
		}
		b.WriteString("Instructions:\n")
		b.Write(data)
		b.WriteString("\n")
	}
	b.WriteString("Brief:\n")
	b.WriteString(req.Text)
	return b.String(), nil
}
