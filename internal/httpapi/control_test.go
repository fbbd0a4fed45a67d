package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frevagpt/orchestrator/internal/storage"
	"github.com/frevagpt/orchestrator/internal/streamvariant"
)

func TestHandleGetThreadFiltersPromptAndReturnsEvents(t *testing.T) {
	srv := newTestServer(t, "http://unused.invalid")

	conv := streamvariant.Conversation{
		streamvariant.NewPrompt("system prompt text"),
		streamvariant.NewUser("hi"),
		streamvariant.NewAssistant("hello back", ""),
	}
	require.NoError(t, srv.Storage.Save(context.Background(), "thread-1", "alice", conv, false))

	router := srv.Router()
	req := httptest.NewRequest(http.MethodGet, "/api/chatbot/getthread?thread_id=thread-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "system prompt text")
	assert.Contains(t, rec.Body.String(), "hello back")
}

func TestHandleGetThreadSynthesizesMissingCodeOutputAndStreamEnd(t *testing.T) {
	srv := newTestServer(t, "http://unused.invalid")

	// A thread that crashed right after emitting Code but before its
	// CodeOutput or a terminal StreamEnd ever landed in storage.
	conv := streamvariant.Conversation{
		streamvariant.NewUser("run this"),
		streamvariant.NewCode("print(1)", "code-1"),
	}
	require.NoError(t, srv.Storage.Save(context.Background(), "thread-crashed", "alice", conv, false))

	router := srv.Router()
	req := httptest.NewRequest(http.MethodGet, "/api/chatbot/getthread?thread_id=thread-crashed", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// FilterForClient elides the synthesized "unexpected manner" StreamEnd (it
	// only ever surfaces the final non-"unexpected" one), so the observable
	// effect here is the synthesized CodeOutput for the dangling Code id.
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"code-1"`)
	assert.Contains(t, rec.Body.String(), `"variant":"CodeOutput"`)
}

func TestHandleGetThreadNotFound(t *testing.T) {
	srv := newTestServer(t, "http://unused.invalid")
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/chatbot/getthread?thread_id=missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStopReturnsFalseForUnknownThread(t *testing.T) {
	srv := newTestServer(t, "http://unused.invalid")
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/chatbot/stop?thread_id=nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":false}`, rec.Body.String())
}

func TestHandleUserFeedbackRequiresRating(t *testing.T) {
	srv := newTestServer(t, "http://unused.invalid")
	require.NoError(t, srv.Storage.Save(context.Background(), "thread-2", "alice", streamvariant.Conversation{streamvariant.NewUser("hi")}, false))

	router := srv.Router()
	body := strings.NewReader(`{"message_index":0,"comment":"great"}`)
	req := httptest.NewRequest(http.MethodGet, "/api/chatbot/userfeedback?thread_id=thread-2", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleUserFeedbackRecordsFeedback(t *testing.T) {
	srv := newTestServer(t, "http://unused.invalid")
	require.NoError(t, srv.Storage.Save(context.Background(), "thread-3", "alice", streamvariant.Conversation{streamvariant.NewUser("hi")}, false))

	router := srv.Router()
	body := strings.NewReader(`{"message_index":0,"rating":"up","comment":"great"}`)
	req := httptest.NewRequest(http.MethodGet, "/api/chatbot/userfeedback?thread_id=thread-3", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	_, ok := srv.Storage.(*storage.MemoryStore)
	require.True(t, ok)
}

func TestHandleDeleteThreadRemovesFromStorage(t *testing.T) {
	srv := newTestServer(t, "http://unused.invalid")
	require.NoError(t, srv.Storage.Save(context.Background(), "thread-4", "alice", streamvariant.Conversation{streamvariant.NewUser("hi")}, false))

	router := srv.Router()
	req := httptest.NewRequest(http.MethodGet, "/api/chatbot/deletethread?thread_id=thread-4", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":true}`, rec.Body.String())

	_, err := srv.Storage.Read(context.Background(), "thread-4")
	assert.Equal(t, storage.ErrNotFound, err)
}
