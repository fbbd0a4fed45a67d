package toolclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeCapturesSessionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Mcp-Session-Id", "sess-123")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`)
	}))
	defer srv.Close()

	c := New(srv.URL, nil, nil)
	sid, err := c.Initialize(context.Background(), "orchestrator", "1.0", nil)
	require.NoError(t, err)
	assert.Equal(t, "sess-123", sid)
	assert.Equal(t, "sess-123", c.SessionID())
}

func TestCallToolFallsBackOnInvalidParams(t *testing.T) {
	var seenMethods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		seenMethods = append(seenMethods, req.Method)

		w.Header().Set("Content-Type", "application/json")
		if req.Method == "tools/call" {
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid params"}}`)
			return
		}
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"structuredContent":{"stdout":"1\n"}}}`)
	}))
	defer srv.Close()

	c := New(srv.URL, nil, nil)
	result, err := c.CallTool(context.Background(), "code_interpreter", map[string]interface{}{"code": "print(1)"}, nil)
	require.NoError(t, err)
	assert.Contains(t, string(result), "1\\n")
	assert.Equal(t, []string{"tools/call", "tools.call"}, seenMethods)
}

func TestCallToolNonInvalidParamsErrorStopsImmediately(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"boom"}}`)
	}))
	defer srv.Close()

	c := New(srv.URL, nil, nil)
	_, err := c.CallTool(context.Background(), "code_interpreter", nil, nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var tcErr *Error
	require.ErrorAs(t, err, &tcErr)
	assert.Equal(t, KindProtocol, tcErr.Kind)
}

func TestSSEFramingScansLastDataLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: message\ndata: {\"ignored\":true}\n\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"ok\":true}}\n")
	}))
	defer srv.Close()

	c := New(srv.URL, nil, nil)
	raw, _, err := c.do(context.Background(), "tools/call", map[string]interface{}{}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))
}

func TestUnauthorizedMapsToKindUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(srv.URL, nil, nil)
	_, err := c.CallTool(context.Background(), "x", nil, nil)
	require.Error(t, err)
	var tcErr *Error
	require.ErrorAs(t, err, &tcErr)
	assert.Equal(t, KindUnauthorized, tcErr.Kind)
}
