package completion

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frevagpt/orchestrator/internal/streamvariant"
)

func fakeCompletionServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
	}))
}

func TestStreamChatCompletionYieldsContentDeltas(t *testing.T) {
	srv := fakeCompletionServer(t, []string{
		`data: {"choices":[{"delta":{"content":"Hel"},"finish_reason":null}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"lo"},"finish_reason":null}]}`,
		``,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		``,
		`data: [DONE]`,
	})
	defer srv.Close()

	c := New(srv.URL, "", nil)
	stream, err := c.StreamChatCompletion(context.Background(), Request{
		Model:    "gpt",
		Messages: []streamvariant.ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	defer stream.Close()

	var content string
	var finish string
	for {
		delta, ok, err := stream.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		content += delta.Content
		if delta.FinishReason != "" {
			finish = delta.FinishReason
		}
	}

	assert.Equal(t, "Hello", content)
	assert.Equal(t, "stop", finish)
}

func TestStreamChatCompletionAccumulatesToolCallFragmentsAcrossChunks(t *testing.T) {
	srv := fakeCompletionServer(t, []string{
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"code_interpreter","arguments":"{\"co"}}]},"finish_reason":null}]}`,
		``,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"de\":\"1+1\"}"}}]},"finish_reason":null}]}`,
		``,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		``,
		`data: [DONE]`,
	})
	defer srv.Close()

	c := New(srv.URL, "key", nil)
	stream, err := c.StreamChatCompletion(context.Background(), Request{Model: "gpt"})
	require.NoError(t, err)
	defer stream.Close()

	var args string
	var finish string
	for {
		delta, ok, err := stream.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		for _, tc := range delta.ToolCalls {
			args += tc.ArgumentsChunk
		}
		if delta.FinishReason != "" {
			finish = delta.FinishReason
		}
	}

	assert.Equal(t, `{"code":"1+1"}`, args)
	assert.Equal(t, "tool_calls", finish)
}

func TestStreamChatCompletionNonOKStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "upstream exploded")
	}))
	defer srv.Close()

	c := New(srv.URL, "", nil)
	_, err := c.StreamChatCompletion(context.Background(), Request{Model: "gpt"})
	require.Error(t, err)
}

func TestSupportsImagesDefaultsTrue(t *testing.T) {
	assert.True(t, SupportsImages("gpt-4o"))
	assert.False(t, SupportsImages("dolphin-mistral-eternis"))
}
