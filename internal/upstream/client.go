// Package upstream talks to the OpenAI-compatible aggregator API: plain and
// streaming chat completions, with a single payment-authorized retry on 402.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/clawinfra/clawrouter/internal/payments"
)

const paymentChallengeHeader = "X-Payment-Challenge"
const paymentHeader = "X-Payment"

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is an upstream chat call. Tools and ResponseFormat pass through
// untouched; the router only reads them.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	Tools          json.RawMessage `json:"tools,omitempty"`
	ResponseFormat json.RawMessage `json:"response_format,omitempty"`
}

// Usage is the upstream token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is a completed non-streaming call.
type ChatResponse struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	Content      string `json:"content"`
	FinishReason string `json:"finishReason"`
	Usage        Usage  `json:"usage"`
}

// StreamChunk is one SSE delta.
type StreamChunk struct {
	Content      string `json:"content,omitempty"`
	FinishReason string `json:"finishReason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
}

type apiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		Delta        Message `json:"delta"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Client is the aggregator HTTP client.
type Client struct {
	baseURL    string
	apiKey     string
	http       *http.Client
	authorizer payments.Authorizer
	logger     *slog.Logger
}

// New creates a client. A nil authorizer disables 402 retries.
func New(baseURL, apiKey string, timeout time.Duration, authorizer payments.Authorizer, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if authorizer == nil {
		authorizer = payments.Disabled{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		http:       &http.Client{Timeout: timeout},
		authorizer: authorizer,
		logger:     logger.With("component", "upstream"),
	}
}

// Chat performs a non-streaming completion.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Stream = false
	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream: read response: %w", err)
	}

	var api apiResponse
	if err := json.Unmarshal(body, &api); err != nil {
		return nil, fmt.Errorf("upstream: decode response: %w", err)
	}
	if len(api.Choices) == 0 {
		return nil, fmt.Errorf("upstream: no choices in response")
	}
	choice := api.Choices[0]
	out := &ChatResponse{
		ID:           api.ID,
		Model:        api.Model,
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
	}
	if api.Usage != nil {
		out.Usage = *api.Usage
	}
	return out, nil
}

// ChatStream performs a streaming completion, calling fn per chunk. The final
// usage, when the upstream reports one, arrives on the last chunk.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, fn func(StreamChunk) error) error {
	req.Stream = true
	resp, err := c.post(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return nil
		}

		var api apiResponse
		if err := json.Unmarshal([]byte(payload), &api); err != nil {
			c.logger.Debug("skipping malformed stream chunk", "error", err)
			continue
		}
		chunk := StreamChunk{Usage: api.Usage}
		if len(api.Choices) > 0 {
			chunk.Content = api.Choices[0].Delta.Content
			chunk.FinishReason = api.Choices[0].FinishReason
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("upstream: read stream: %w", err)
	}
	return nil
}

// post sends the request, answering a 402 challenge once before giving up.
func (c *Client) post(ctx context.Context, req ChatRequest) (*http.Response, error) {
	resp, err := c.send(ctx, req, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusPaymentRequired {
		challenge := resp.Header.Get(paymentChallengeHeader)
		resp.Body.Close()

		auth, authErr := c.authorizer.Authorize(challenge)
		if authErr != nil {
			return nil, fmt.Errorf("upstream: 402 payment required: %w", authErr)
		}
		c.logger.Info("retrying with payment authorization", "model", req.Model)
		resp, err = c.send(ctx, req, auth)
		if err != nil {
			return nil, err
		}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.statusError(resp)
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, req ChatRequest, paymentAuth string) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("upstream: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if paymentAuth != "" {
		httpReq.Header.Set(paymentHeader, paymentAuth)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream: http request: %w", err)
	}
	return resp, nil
}

// statusError turns a non-200 response into an error whose text carries the
// status code, so downstream error classification can bucket it.
func (c *Client) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var api apiError
	json.Unmarshal(body, &api)
	msg := api.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	return fmt.Errorf("upstream: API error %d %s: %s", resp.StatusCode, http.StatusText(resp.StatusCode), msg)
}
