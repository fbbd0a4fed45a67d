// Package toolclient implements the Tool Client (C2, spec.md §4.2): a JSON-RPC
// 2.0-over-HTTP client speaking to a single remote tool server, with session
// stickiness and method-name fallback. The HTTP plumbing (manual
// http.NewRequestWithContext + header construction + httpClient.Do) is grounded
// on the teacher's internal/streaming/tool_executor.go CreateContinuationRequest;
// the "scan for the last SSE data: line" framing is grounded on
// internal/streaming/session.go's readUpstream bufio.Scanner loop. The JSON-RPC
// envelope here is bespoke (stdlib encoding/json) rather than mcp-go's client
// package because mcp-go's CallTool always uses the fixed method "tools/call" and
// has no notion of method-name fallback — see DESIGN.md.
package toolclient

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
	"sync"
	"time"
)

const protocolVersion = "2025-03-26"

// Error taxonomy (spec.md §4.2).
type Kind string

const (
	KindInvalidParams Kind = "invalid-params"
	KindUnauthorized  Kind = "unauthorized"
	KindBadRequest    Kind = "bad-request"
	KindProtocol      Kind = "protocol"
	KindTransport     Kind = "transport"
)

// Error is a tagged tool-client failure.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("toolclient: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("toolclient: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// jsonrpcRequest is the minimal JSON-RPC 2.0 envelope used for every call.
type jsonrpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

const errCodeInvalidParams = -32602

// callToolMethods is the method-name fallback order for tool invocation
// (spec.md §4.2).
var callToolMethods = []string{"tools/call", "tools.call", "tools.invoke"}

// listToolsMethods mirrors the same fallback convention for discovery
// (spec.md §4.3: "tools/list (with fallbacks)").
var listToolsMethods = []string{"tools/list", "tools.list"}

// ToolDescriptor is a normalized tool description from tools/list.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Client speaks JSON-RPC 2.0 to one tool server over a single HTTP endpoint.
type Client struct {
	BaseURL        string
	HTTPClient     *http.Client
	DefaultHeaders map[string]string

	mu        sync.RWMutex
	sessionID string
	nextID    int
}

// New creates a Client for a tool server at baseURL. httpClient may be nil, in
// which case a client with a 300-second overall request timeout is used; it
// sets no separate connect timeout.
func New(baseURL string, httpClient *http.Client, defaultHeaders map[string]string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 300 * time.Second}
	}
	return &Client{
		BaseURL:        baseURL,
		HTTPClient:     httpClient,
		DefaultHeaders: defaultHeaders,
		nextID:         1,
	}
}

// SessionID returns the server-assigned Mcp-Session-Id, or "" if none has been
// captured yet.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Initialize performs the JSON-RPC initialize handshake and captures the
// server-assigned session id (spec.md §4.2).
func (c *Client) Initialize(ctx context.Context, clientName, clientVersion string, extraHeaders map[string]string) (string, error) {
	params := map[string]interface{}{
		"protocolVersion": protocolVersion,
		"clientInfo":      map[string]string{"name": clientName, "version": clientVersion},
		"capabilities":    map[string]interface{}{},
	}

	_, headers, err := c.do(ctx, "initialize", params, extraHeaders)
	if err != nil {
		return "", err
	}

	sessionID := headerCaseInsensitive(headers, "Mcp-Session-Id")
	if sessionID != "" {
		c.mu.Lock()
		c.sessionID = sessionID
		c.mu.Unlock()
	}
	return sessionID, nil
}

// ListTools discovers the tools this server exposes.
func (c *Client) ListTools(ctx context.Context, extraHeaders map[string]string) ([]ToolDescriptor, error) {
	var lastErr error
	for _, method := range listToolsMethods {
		raw, _, err := c.do(ctx, method, map[string]interface{}{}, extraHeaders)
		if err == nil {
			var result struct {
				Tools []ToolDescriptor `json:"tools"`
			}
			if err := json.Unmarshal(raw, &result); err != nil {
				return nil, newErr(KindProtocol, "malformed tools/list result", err)
			}
			return result.Tools, nil
		}
		lastErr = err
		if !isInvalidParams(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// CallTool invokes a tool by name, retrying under alternate method names when the
// server reports "invalid params" (spec.md §4.2).
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]interface{}, extraHeaders map[string]string) (json.RawMessage, error) {
	params := map[string]interface{}{"name": name, "arguments": arguments}

	var lastErr error
	for _, method := range callToolMethods {
		raw, _, err := c.do(ctx, method, params, extraHeaders)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !isInvalidParams(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func isInvalidParams(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == KindInvalidParams
}

// do issues one JSON-RPC request and returns its parsed result, plus the
// response headers (so Initialize can pull Mcp-Session-Id out of them).
func (c *Client) do(ctx context.Context, method string, params interface{}, extraHeaders map[string]string) (json.RawMessage, http.Header, error) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.mu.Unlock()

	reqBody, err := json.Marshal(jsonrpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, nil, newErr(KindProtocol, "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, nil, newErr(KindTransport, "failed to build request", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	httpReq.Header.Set("Mcp-Protocol-Version", protocolVersion)

	for k, v := range c.DefaultHeaders {
		httpReq.Header.Set(k, v)
	}
	for k, v := range extraHeaders {
		httpReq.Header.Set(k, v)
	}

	if sid := c.SessionID(); sid != "" {
		httpReq.Header.Set("Mcp-Session-Id", sid)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, nil, newErr(KindTransport, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, newErr(KindTransport, "failed to read response body", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, nil, newErr(KindUnauthorized, fmt.Sprintf("tool server returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode == http.StatusBadRequest {
		return nil, nil, newErr(KindBadRequest, "tool server returned 400", nil)
	}

	frame, err := extractDataFrame(body)
	if err != nil {
		return nil, nil, newErr(KindProtocol, "failed to frame response", err)
	}

	var rpcResp jsonrpcResponse
	if err := json.Unmarshal(frame, &rpcResp); err != nil {
		return nil, nil, newErr(KindProtocol, "malformed JSON-RPC response", err)
	}

	if rpcResp.Error != nil {
		if rpcResp.Error.Code == errCodeInvalidParams {
			return nil, resp.Header, newErr(KindInvalidParams, rpcResp.Error.Message, nil)
		}
		return nil, resp.Header, newErr(KindProtocol, rpcResp.Error.Message, nil)
	}

	return rpcResp.Result, resp.Header, nil
}

// extractDataFrame scans body for the last line starting with "data: " and
// returns its JSON remainder; if no such line exists, the full body is treated
// as JSON directly (spec.md §4.2 framing rules).
func extractDataFrame(body []byte) ([]byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var last string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			last = strings.TrimPrefix(line, "data: ")
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if last != "" {
		return []byte(last), nil
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("empty response body")
	}
	return body, nil
}

func headerCaseInsensitive(h http.Header, key string) string {
	if h == nil {
		return ""
	}
	return h.Get(key) // http.Header.Get is already case-insensitive (canonicalized).
}
