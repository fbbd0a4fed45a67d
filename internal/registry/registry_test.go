package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frevagpt/orchestrator/internal/streamvariant"
	"github.com/frevagpt/orchestrator/internal/toolmanager"
)

func fakeCodeServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case containsSubstring(string(body), `"method":"initialize"`):
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`)
		case containsSubstring(string(body), `"method":"tools/list"`):
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"tools":[{"name":"code_interpreter","description":"d","input_schema":{}}]}}`)
		default:
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"structuredContent":{"stdout":"ok"}}}`)
		}
	}))
}

func containsSubstring(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

type fakeSaver struct {
	calls []string
	err   error
}

func (f *fakeSaver) Save(ctx context.Context, threadID, userID string, conv streamvariant.Conversation, appendToExisting bool) error {
	f.calls = append(f.calls, threadID)
	return f.err
}

func TestNewThreadIDIsUniqueAndUnregistered(t *testing.T) {
	r := New(nil)
	id1 := r.NewThreadID()
	id2 := r.NewThreadID()

	assert.Len(t, id1, threadIDLength)
	assert.NotEqual(t, id1, id2)
}

func TestInitializeCreatesConversationOnce(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	conv, created := r.Initialize(ctx, "t1", "u1", nil, InitOptions{})
	require.True(t, created)
	assert.Equal(t, StateStreaming, conv.State)

	again, created2 := r.Initialize(ctx, "t1", "u1", nil, InitOptions{})
	assert.False(t, created2)
	assert.Same(t, conv, again)
}

func TestInitializeToolManagerFailureLeavesConversationRunnable(t *testing.T) {
	r := New(nil)
	conv, created := r.Initialize(context.Background(), "t2", "u1", nil, InitOptions{
		ToolServers: []toolmanager.ServerConfig{{Name: "down", BaseURL: "http://127.0.0.1:1"}},
	})
	require.True(t, created)
	assert.Nil(t, conv.ToolManager)

	state, ok := r.GetState("t2")
	require.True(t, ok)
	assert.Equal(t, StateStreaming, state)
}

func TestInitializeSpawnsReplayForPriorCodeBlocks(t *testing.T) {
	srv := fakeCodeServer(t)
	defer srv.Close()

	r := New(nil)
	priorMessages := streamvariant.Conversation{
		streamvariant.NewUser("hi"),
		streamvariant.NewCode(`{"code":"1+1"}`, "c1"),
		streamvariant.NewCodeOutput("2", "c1"),
	}

	conv, created := r.Initialize(context.Background(), "t3", "u1", priorMessages, InitOptions{
		ToolServers: []toolmanager.ServerConfig{{Name: "code", BaseURL: srv.URL}},
	})
	require.True(t, created)
	require.NotNil(t, conv.ToolManager)

	require.Eventually(t, func() bool {
		_, ok := conv.toolTasks["replay:t3"]
		return !ok
	}, time.Second, 5*time.Millisecond, "replay task should unregister itself once finished")
}

func TestAddExtendsMessagesAndBumpsActivity(t *testing.T) {
	r := New(nil)
	r.Initialize(context.Background(), "t4", "u1", nil, InitOptions{})

	before, _ := r.GetMessages("t4")
	require.Empty(t, before)

	ok := r.Add("t4", streamvariant.NewUser("hello"))
	require.True(t, ok)

	after, _ := r.GetMessages("t4")
	require.Len(t, after, 1)
	assert.Equal(t, "hello", after[0].Text)

	assert.False(t, r.Add("missing", streamvariant.NewUser("x")))
}

func TestRequestStopTransitionsState(t *testing.T) {
	r := New(nil)
	r.Initialize(context.Background(), "t5", "u1", nil, InitOptions{})

	require.True(t, r.RequestStop("t5"))
	state, _ := r.GetState("t5")
	assert.Equal(t, StateStopping, state)

	assert.False(t, r.RequestStop("missing"))
}

func TestEndAndSavePersistsAndSetsEnded(t *testing.T) {
	r := New(nil)
	r.Initialize(context.Background(), "t6", "u1", nil, InitOptions{})
	r.Add("t6", streamvariant.NewUser("hi"))

	saver := &fakeSaver{}
	ok := r.EndAndSave(context.Background(), "t6", saver)
	require.True(t, ok)

	state, _ := r.GetState("t6")
	assert.Equal(t, StateEnded, state)
	assert.Equal(t, []string{"t6"}, saver.calls)
}

func TestEndAndSaveMissingReturnsFalse(t *testing.T) {
	r := New(nil)
	saver := &fakeSaver{}
	assert.False(t, r.EndAndSave(context.Background(), "nope", saver))
	assert.Empty(t, saver.calls)
}

func TestRemoveDeletesAndClosesToolManager(t *testing.T) {
	r := New(nil)
	conv, _ := r.Initialize(context.Background(), "t7", "u1", nil, InitOptions{})
	require.NotNil(t, conv.ToolManager)

	assert.True(t, r.Remove("t7"))
	_, ok := r.GetState("t7")
	assert.False(t, ok)
	assert.Nil(t, conv.ToolManager.ToolCatalogue(), "Remove should close the tool manager")
	assert.False(t, r.Remove("t7"))
}

func TestRegisterUnregisterAndCancelToolTasks(t *testing.T) {
	r := New(nil)
	r.Initialize(context.Background(), "t8", "u1", nil, InitOptions{})

	cancelled := false
	cancel := func() { cancelled = true }

	require.True(t, r.RegisterToolTask("t8", "task1", cancel))
	assert.Equal(t, 1, r.CancelToolTasks("t8"))
	assert.True(t, cancelled)

	assert.Equal(t, 0, r.CancelToolTasks("t8"))
	assert.False(t, r.RegisterToolTask("missing", "task2", func() {}))

	r.Initialize(context.Background(), "t9", "u1", nil, InitOptions{})
	require.True(t, r.RegisterToolTask("t9", "taskA", func() {}))
	r.UnregisterToolTask("t9", "taskA")
	assert.Equal(t, 0, r.CancelToolTasks("t9"))
}

func TestCleanupIdleEvictsOnlyStaleConversations(t *testing.T) {
	r := New(nil)
	r.Initialize(context.Background(), "fresh", "u1", nil, InitOptions{})
	r.Initialize(context.Background(), "stale", "u1", nil, InitOptions{})

	r.mu.Lock()
	r.conversations["stale"].LastActivity = time.Now().Add(-time.Hour)
	r.mu.Unlock()

	saver := &fakeSaver{}
	evicted := r.CleanupIdle(context.Background(), 5*time.Minute, saver)

	assert.Equal(t, []string{"stale"}, evicted)
	assert.Equal(t, []string{"stale"}, saver.calls)

	_, ok := r.GetState("stale")
	assert.False(t, ok)
	_, ok = r.GetState("fresh")
	assert.True(t, ok)
}

func TestCleanupIdleLogsSaveErrorsButStillEvicts(t *testing.T) {
	r := New(nil)
	r.Initialize(context.Background(), "stale2", "u1", nil, InitOptions{})
	r.mu.Lock()
	r.conversations["stale2"].LastActivity = time.Now().Add(-time.Hour)
	r.mu.Unlock()

	saver := &fakeSaver{err: errors.New("boom")}
	evicted := r.CleanupIdle(context.Background(), time.Minute, saver)
	assert.Equal(t, []string{"stale2"}, evicted)
}
