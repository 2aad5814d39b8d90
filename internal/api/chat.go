package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/clawinfra/clawrouter/internal/router"
	"github.com/clawinfra/clawrouter/internal/upstream"
)

// chatRequest is the OpenAI-compatible request body. Tool definitions and
// response_format are forwarded untouched; their presence is all the router
// reads from them.
type chatRequest struct {
	Model          string             `json:"model,omitempty"`
	Messages       []upstream.Message `json:"messages"`
	MaxTokens      int                `json:"max_tokens,omitempty"`
	Temperature    float64            `json:"temperature,omitempty"`
	Stream         bool               `json:"stream,omitempty"`
	Tools          json.RawMessage    `json:"tools,omitempty"`
	ResponseFormat json.RawMessage    `json:"response_format,omitempty"`
}

type chatChoice struct {
	Index        int               `json:"index"`
	Message      *upstream.Message `json:"message,omitempty"`
	Delta        *upstream.Message `json:"delta,omitempty"`
	FinishReason string            `json:"finish_reason,omitempty"`
}

type chatResponse struct {
	ID      string          `json:"id"`
	Object  string          `json:"object"`
	Created int64           `json:"created"`
	Model   string          `json:"model"`
	Choices []chatChoice    `json:"choices"`
	Usage   *upstream.Usage `json:"usage,omitempty"`
}

// routedModel decides whether the client asked for routing. An explicit model
// name passes through untouched; "auto", "clawrouter", or an empty model
// engages the engine.
func routedModel(model string) bool {
	switch strings.ToLower(model) {
	case "", "auto", "clawrouter":
		return true
	default:
		return false
	}
}

// flatten splits the message list into the classifier's prompt/system pair:
// system and developer messages join into the system prompt, user and
// assistant turns join into the prompt. A trivial follow-up ("thanks,
// continue") classifies with the whole conversation behind it, not alone.
func flatten(messages []upstream.Message) (prompt, system string) {
	var sys, turns []string
	for _, m := range messages {
		switch m.Role {
		case "system", "developer":
			sys = append(sys, m.Content)
		case "user", "assistant":
			turns = append(turns, m.Content)
		}
	}
	return strings.Join(turns, "\n"), strings.Join(sys, "\n")
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages required")
		return
	}

	model := req.Model
	var decision router.RoutingDecision
	routed := routedModel(req.Model)
	if routed {
		prompt, system := flatten(req.Messages)
		decision = s.engine.Route(router.RouteRequest{
			Prompt:       prompt,
			SystemPrompt: system,
			SessionID:    r.Header.Get("X-Session-ID"),
			AgenticMode:  len(req.Tools) > 0,
		})
		model = decision.Model

		w.Header().Set("X-ClawRouter-Decision", decision.ID)
		w.Header().Set("X-ClawRouter-Tier", decision.Tier.String())
		w.Header().Set("X-ClawRouter-Model", decision.Model)
		w.Header().Set("X-ClawRouter-Confidence", fmt.Sprintf("%.2f", decision.Confidence))

		if s.usageLog != nil {
			if err := s.usageLog.RecordDecision(r.Context(), &decision); err != nil {
				s.logger.Warn("record decision failed", "error", err)
			}
		}
		s.telemetry.PublishDecision(&decision)
	}

	up := upstream.ChatRequest{
		Model:          model,
		Messages:       req.Messages,
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
		Tools:          req.Tools,
		ResponseFormat: req.ResponseFormat,
	}

	start := time.Now()
	var obs router.Observed
	var err error
	if req.Stream {
		var usage *upstream.Usage
		usage, err = s.streamChat(w, r, up)
		obs = router.Observed{Err: err}
		if usage != nil {
			obs.InputTokens = usage.PromptTokens
			obs.OutputTokens = usage.CompletionTokens
			obs.Cost = s.cost(model, usage.TotalTokens)
		}
	} else {
		var resp *upstream.ChatResponse
		resp, err = s.backend.Chat(r.Context(), up)
		if err == nil {
			obs = router.Observed{
				Success:      true,
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
				Cost:         s.cost(model, resp.Usage.TotalTokens),
			}
			writeJSON(w, http.StatusOK, chatResponse{
				ID:      resp.ID,
				Object:  "chat.completion",
				Created: time.Now().Unix(),
				Model:   model,
				Choices: []chatChoice{{
					Message:      &upstream.Message{Role: "assistant", Content: resp.Content},
					FinishReason: resp.FinishReason,
				}},
				Usage: &resp.Usage,
			})
		} else {
			obs = router.Observed{Err: err}
			writeError(w, upstreamStatus(err), err.Error())
		}
	}
	obs.LatencyMs = time.Since(start).Milliseconds()
	obs.Success = err == nil

	if routed {
		s.engine.RecordFeedback(decision, obs)
		if s.usageLog != nil {
			if ferr := s.usageLog.RecordFeedback(r.Context(), decision.ID, obs); ferr != nil {
				s.logger.Warn("record feedback failed", "error", ferr)
			}
		}
		s.telemetry.PublishFeedback(decision.ID, obs)
	}
}

// streamChat forwards upstream SSE chunks in OpenAI chunk shape. Once the
// first chunk is written the status is committed, so upstream errors after
// that point only terminate the stream.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, up upstream.ChatRequest) (*upstream.Usage, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return nil, fmt.Errorf("api: response writer does not support flushing")
	}

	var usage *upstream.Usage
	wroteHeader := false
	err := s.backend.ChatStream(r.Context(), up, func(chunk upstream.StreamChunk) error {
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if !wroteHeader {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			wroteHeader = true
		}
		out := chatResponse{
			Object:  "chat.completion.chunk",
			Created: time.Now().Unix(),
			Model:   up.Model,
			Choices: []chatChoice{{
				Delta:        &upstream.Message{Role: "assistant", Content: chunk.Content},
				FinishReason: chunk.FinishReason,
			}},
			Usage: chunk.Usage,
		}
		payload, merr := json.Marshal(out)
		if merr != nil {
			return merr
		}
		if _, werr := fmt.Fprintf(w, "data: %s\n\n", payload); werr != nil {
			return werr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		if !wroteHeader {
			writeError(w, upstreamStatus(err), err.Error())
		}
		return usage, err
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
	return usage, nil
}

// cost prices a completed call from the catalog.
func (s *Server) cost(model string, totalTokens int) float64 {
	if s.catalog == nil {
		return 0
	}
	return s.catalog.CostPerMillion(model) * float64(totalTokens) / 1e6
}

// upstreamStatus maps an upstream error to a proxy status code.
func upstreamStatus(err error) int {
	switch router.ClassifyError(err) {
	case router.ErrKindRateLimit:
		return http.StatusTooManyRequests
	case router.ErrKindPaymentRequired:
		return http.StatusPaymentRequired
	case router.ErrKindAuth:
		return http.StatusUnauthorized
	case router.ErrKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
