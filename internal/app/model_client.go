package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ModelMessage is one turn handed to the model.
type ModelMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ModelUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type ModelResponse struct {
	Content string
	Usage   *ModelUsage
}

// StreamChunk is one incremental piece of a streamed completion. Done marks
// the terminal chunk; no content follows it.
type StreamChunk struct {
	Content string
	Done    bool
}

type InvokeOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// ModelClient is the model-invocation collaborator. Both calls honor the
// context for cancellation and apply the request timeout from the options.
type ModelClient interface {
	Invoke(ctx context.Context, messages []ModelMessage, opts InvokeOptions) (ModelResponse, error)
	InvokeStream(ctx context.Context, messages []ModelMessage, opts InvokeOptions, fn func(StreamChunk) error) error
}

// HTTPModelClient talks to an Anthropic-style messages endpoint.
type HTTPModelClient struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
	HTTP      *http.Client
}

type messagesRequest struct {
	Model     string         `json:"model"`
	MaxTokens int            `json:"max_tokens,omitempty"`
	Messages  []ModelMessage `json:"messages"`
	Stream    bool           `json:"stream,omitempty"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func NewHTTPModelClient(apiKey, model, baseURL string, maxTokens int) *HTTPModelClient {
	if model == "" {
		model = DefaultConfig().DefaultModel
	}
	if baseURL == "" {
		baseURL = DefaultConfig().BaseURL
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &HTTPModelClient{
		APIKey:    apiKey,
		Model:     model,
		BaseURL:   baseURL,
		MaxTokens: maxTokens,
		HTTP:      &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *HTTPModelClient) newRequest(ctx context.Context, body messagesRequest) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	return req, nil
}

func (c *HTTPModelClient) options(opts InvokeOptions) (string, int) {
	model := opts.Model
	if model == "" {
		model = c.Model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.MaxTokens
	}
	return model, maxTokens
}

func (c *HTTPModelClient) Invoke(ctx context.Context, messages []ModelMessage, opts InvokeOptions) (ModelResponse, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return ModelResponse{}, errors.New("api key is required")
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	model, maxTokens := c.options(opts)
	req, err := c.newRequest(ctx, messagesRequest{Model: model, MaxTokens: maxTokens, Messages: messages})
	if err != nil {
		return ModelResponse{}, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return ModelResponse{}, fmt.Errorf("api request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return ModelResponse{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(bodyBytes, &errResp)
		if errResp.Message != "" {
			return ModelResponse{}, fmt.Errorf("api error: status %d, message: %s", resp.StatusCode, errResp.Message)
		}
		if errResp.Error != "" {
			return ModelResponse{}, fmt.Errorf("api error: status %d, error: %s", resp.StatusCode, errResp.Error)
		}
		return ModelResponse{}, fmt.Errorf("api error: status %d, response: %s", resp.StatusCode, string(bodyBytes))
	}

	var decoded messagesResponse
	if err := json.Unmarshal(bodyBytes, &decoded); err != nil {
		return ModelResponse{}, fmt.Errorf("invalid api response format: %s", string(bodyBytes))
	}
	if decoded.Error != nil {
		return ModelResponse{}, fmt.Errorf("api error: %s", decoded.Error.Message)
	}

	var text strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "text" && block.Text != "" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return ModelResponse{}, fmt.Errorf("invalid api response format: %s", string(bodyBytes))
	}

	out := ModelResponse{Content: text.String()}
	if decoded.Usage != nil {
		out.Usage = &ModelUsage{InputTokens: decoded.Usage.InputTokens, OutputTokens: decoded.Usage.OutputTokens}
	}
	return out, nil
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"delta"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// InvokeStream runs the SSE variant of the messages endpoint and hands each
// text delta to fn, followed by a terminal Done chunk. A non-nil error from
// fn aborts the stream.
func (c *HTTPModelClient) InvokeStream(ctx context.Context, messages []ModelMessage, opts InvokeOptions, fn func(StreamChunk) error) error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("api key is required")
	}
	if fn == nil {
		return errors.New("stream callback is required")
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	model, maxTokens := c.options(opts)
	req, err := c.newRequest(ctx, messagesRequest{Model: model, MaxTokens: maxTokens, Messages: messages, Stream: true})
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("api request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("api error: status %d, response: %s", resp.StatusCode, string(bodyBytes))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var evt streamEvent
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			continue
		}
		if evt.Error != nil {
			return fmt.Errorf("api error: %s", evt.Error.Message)
		}
		switch evt.Type {
		case "content_block_delta":
			if evt.Delta.Text != "" {
				if err := fn(StreamChunk{Content: evt.Delta.Text}); err != nil {
					return err
				}
			}
		case "message_stop":
			return fn(StreamChunk{Done: true})
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read failed: %w", err)
	}
	// Endpoint closed without a message_stop event; still signal completion.
	return fn(StreamChunk{Done: true})
}
