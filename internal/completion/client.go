// Package completion implements the LLM streaming-completion client the
// Streaming Orchestrator (C5, spec.md §4.5) drives: POST a chat-completion
// request with stream=true and tools=tool_catalogue(), then read back
// OpenAI-style SSE delta chunks one at a time. The request-building and
// finalURL normalization (append /chat/completions if the configured address
// doesn't already end in it) is grounded on the teacher's
// internal/streaming/tool_executor.go CreateContinuationRequest; the SSE line
// scanning (skip blank lines, detect "data: [DONE]", bufio.Scanner with a
// bumped buffer) is grounded on internal/streaming/session.go's readUpstream,
// and the per-chunk delta JSON shape mirrors
// internal/streaming/tool_detector.go's ToolCallDetector chunk struct (this
// package emits the raw per-chunk fragments; accumulating them by index is
// the orchestrator's job per spec.md §4.5 step B.3, not this client's).
package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/frevagpt/orchestrator/internal/streamvariant"
	"github.com/frevagpt/orchestrator/internal/toolmanager"
)

const maxSSELineBytes = 1024 * 1024

// ToolCallDelta is one chunk's fragment of a tool call accumulating at Index.
type ToolCallDelta struct {
	Index          int
	ID             string
	Type           string
	Name           string
	ArgumentsChunk string
}

// Delta is one parsed SSE chunk (spec.md §4.5 step B.3).
type Delta struct {
	Content      string
	ToolCalls    []ToolCallDelta
	FinishReason string
}

// Request is a streaming chat-completion request (spec.md §4.5 step B.2).
type Request struct {
	Model      string
	Messages   []streamvariant.ChatMessage
	Tools      []toolmanager.FunctionTool
	ToolChoice string // "auto" when Tools is non-empty
}

// Client speaks the OpenAI-compatible chat-completions streaming API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// New builds a Client. httpClient may be nil, in which case a client with a
// long read timeout (streaming completions can run for minutes) is used.
func New(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Client{BaseURL: baseURL, APIKey: apiKey, HTTPClient: httpClient}
}

// Stream iterates the delta chunks of one streaming completion.
type Stream struct {
	scanner *bufio.Scanner
	body    io.ReadCloser
}

// StreamChatCompletion issues req and returns a Stream over its SSE deltas.
func (c *Client) StreamChatCompletion(ctx context.Context, req Request) (*Stream, error) {
	payload := map[string]interface{}{
		"model":    req.Model,
		"messages": req.Messages,
		"stream":   true,
	}
	if len(req.Tools) > 0 {
		payload["tools"] = req.Tools
		toolChoice := req.ToolChoice
		if toolChoice == "" {
			toolChoice = "auto"
		}
		payload["tool_choice"] = toolChoice
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("completion: failed to marshal request: %w", err)
	}

	finalURL := c.BaseURL
	if !strings.HasSuffix(finalURL, "/chat/completions") {
		finalURL = strings.TrimSuffix(finalURL, "/") + "/chat/completions"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, finalURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("completion: failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion: request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("completion: upstream returned status %d: %s", resp.StatusCode, string(errBody))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxSSELineBytes)

	return &Stream{scanner: scanner, body: resp.Body}, nil
}

// Next returns the next delta chunk, or ok=false at stream end ([DONE] or
// EOF). err is non-nil only on a malformed stream.
func (s *Stream) Next() (Delta, bool, error) {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		jsonData := strings.TrimPrefix(line, "data: ")
		if jsonData == "[DONE]" {
			return Delta{}, false, nil
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content   string `json:"content"`
					ToolCalls []struct {
						Index    int    `json:"index"`
						ID       string `json:"id"`
						Type     string `json:"type"`
						Function struct {
							Name      string `json:"name"`
							Arguments string `json:"arguments"`
						} `json:"function"`
					} `json:"tool_calls"`
				} `json:"delta"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(jsonData), &chunk); err != nil {
			return Delta{}, false, fmt.Errorf("completion: malformed SSE chunk: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		delta := Delta{Content: choice.Delta.Content, FinishReason: choice.FinishReason}
		for _, tc := range choice.Delta.ToolCalls {
			delta.ToolCalls = append(delta.ToolCalls, ToolCallDelta{
				Index:          tc.Index,
				ID:             tc.ID,
				Type:           tc.Type,
				Name:           tc.Function.Name,
				ArgumentsChunk: tc.Function.Arguments,
			})
		}
		return delta, true, nil
	}

	if err := s.scanner.Err(); err != nil {
		return Delta{}, false, fmt.Errorf("completion: stream read error: %w", err)
	}
	return Delta{}, false, nil
}

// Close releases the underlying HTTP response body.
func (s *Stream) Close() error {
	return s.body.Close()
}
