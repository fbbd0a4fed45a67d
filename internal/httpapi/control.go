// control.go implements the thin storage-facade control endpoints of spec.md
// §6: /stop, /getthread, /getuserthreads, /deletethread, /setthreadtopic,
// /searchthreads, /editthread, /userfeedback.
package httpapi

import (
	"net/http"
	"strconv"

	"github.com/frevagpt/orchestrator/internal/apierrors"
	"github.com/frevagpt/orchestrator/internal/storage"
	"github.com/frevagpt/orchestrator/internal/streamvariant"
	"github.com/gin-gonic/gin"
)

const defaultNumThreads = 20

// handleStop implements GET /stop?thread_id=... (spec.md §6): requests
// STOPPING and reports whether the thread was registered. When the thread
// isn't owned by this instance and a distributed cancel relay is configured
// (FREVAGPT_NATS_URL), it asks the other instances too.
func (s *Server) handleStop(c *gin.Context) {
	threadID := c.Query("thread_id")
	if threadID == "" {
		apierrors.AbortWithInputValidation(c, "query parameter 'thread_id' is required", nil)
		return
	}
	found := s.Registry.RequestStop(threadID)
	if !found && s.relay != nil {
		remote, err := s.relay.RequestStop(c.Request.Context(), threadID)
		if err != nil {
			apierrors.AbortWithUpstreamUnreachable(c, "distributed stop request failed", map[string]interface{}{"thread_id": threadID})
			return
		}
		found = remote
	}
	c.JSON(http.StatusOK, gin.H{"ok": found})
}

// handleGetThread implements GET /getthread?thread_id=... (spec.md §6):
// returns wire events with Prompt removed and all StreamEnd except the final
// non-"unexpected" one elided.
func (s *Server) handleGetThread(c *gin.Context) {
	threadID := c.Query("thread_id")
	if threadID == "" {
		apierrors.AbortWithInputValidation(c, "query parameter 'thread_id' is required", nil)
		return
	}

	conv, err := s.Storage.Read(c.Request.Context(), threadID)
	if err != nil {
		s.respondStorageErr(c, err, threadID)
		return
	}

	// appendTerminal=true: a persisted thread that crashed mid-stream may be
	// missing its matching CodeOutput or its final StreamEnd; cleanup
	// synthesizes both before FilterForClient decides what the client sees.
	conv = streamvariant.Cleanup(conv, true, s.Log)

	c.JSON(http.StatusOK, gin.H{"thread_id": threadID, "events": streamvariant.FilterForClient(conv)})
}

// handleGetUserThreads implements GET /getuserthreads?num_threads=N.
func (s *Server) handleGetUserThreads(c *gin.Context) {
	principal, _ := GetPrincipal(c)
	limit := queryInt(c, "num_threads", defaultNumThreads)

	threads, total, err := s.Storage.ListRecent(c.Request.Context(), principal.Username, limit)
	if err != nil {
		apierrors.AbortWithUpstreamUnreachable(c, "failed to list threads", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"threads": threads, "total": total})
}

// handleDeleteThread implements GET /deletethread?thread_id=....
func (s *Server) handleDeleteThread(c *gin.Context) {
	threadID := c.Query("thread_id")
	if threadID == "" {
		apierrors.AbortWithInputValidation(c, "query parameter 'thread_id' is required", nil)
		return
	}

	s.Registry.Remove(threadID)

	deleted, err := s.Storage.Delete(c.Request.Context(), threadID)
	if err != nil {
		apierrors.AbortWithUpstreamUnreachable(c, "failed to delete thread", map[string]interface{}{"thread_id": threadID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// handleSetThreadTopic implements GET /setthreadtopic?thread_id=...&topic=....
func (s *Server) handleSetThreadTopic(c *gin.Context) {
	threadID := c.Query("thread_id")
	topic := c.Query("topic")
	if threadID == "" || topic == "" {
		apierrors.AbortWithInputValidation(c, "query parameters 'thread_id' and 'topic' are required", nil)
		return
	}

	updated, err := s.Storage.UpdateTopic(c.Request.Context(), threadID, topic)
	if err != nil {
		s.respondStorageErr(c, err, threadID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// handleSearchThreads implements GET /searchthreads?query=...&num_threads=N
// (optionally &kind=<StreamVariant Kind> to search message content instead of
// topic, spec.md §4.7 query_by_variant).
func (s *Server) handleSearchThreads(c *gin.Context) {
	principal, _ := GetPrincipal(c)
	query := c.Query("query")
	if query == "" {
		apierrors.AbortWithInputValidation(c, "query parameter 'query' is required", nil)
		return
	}
	limit := queryInt(c, "num_threads", defaultNumThreads)

	var (
		results []storage.ThreadSummary
		err     error
	)
	if kind := c.Query("kind"); kind != "" {
		results, err = s.Storage.QueryByVariant(c.Request.Context(), principal.Username, streamvariant.Kind(kind), query, limit)
	} else {
		results, err = s.Storage.QueryByTopic(c.Request.Context(), principal.Username, query, limit)
	}
	if err != nil {
		apierrors.AbortWithUpstreamUnreachable(c, "search failed", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"threads": results})
}

// editThreadRequest is the JSON body of GET /editthread (SPEC_FULL.md
// §4.9 replace_messages, grounded on original_source's editthread.py manual
// conversation-repair endpoint).
type editThreadRequest struct {
	Events streamvariant.Conversation `json:"events"`
}

// handleEditThread implements /editthread?thread_id=...: overwrites a thread's
// stored events wholesale with a caller-supplied event list.
func (s *Server) handleEditThread(c *gin.Context) {
	threadID := c.Query("thread_id")
	if threadID == "" {
		apierrors.AbortWithInputValidation(c, "query parameter 'thread_id' is required", nil)
		return
	}

	var req editThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithInputValidation(c, "malformed request body", map[string]interface{}{"error": err.Error()})
		return
	}

	if err := s.Storage.ReplaceMessages(c.Request.Context(), threadID, req.Events); err != nil {
		s.respondStorageErr(c, err, threadID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// userFeedbackRequest is the JSON body of /userfeedback (SPEC_FULL.md §4.9,
// grounded on original_source's userfeedback.py).
type userFeedbackRequest struct {
	MessageIndex int    `json:"message_index"`
	Rating       string `json:"rating"`
	Comment      string `json:"comment"`
}

// handleUserFeedback implements /userfeedback?thread_id=....
func (s *Server) handleUserFeedback(c *gin.Context) {
	threadID := c.Query("thread_id")
	if threadID == "" {
		apierrors.AbortWithInputValidation(c, "query parameter 'thread_id' is required", nil)
		return
	}

	var req userFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithInputValidation(c, "malformed request body", map[string]interface{}{"error": err.Error()})
		return
	}
	if req.Rating == "" {
		apierrors.AbortWithInputValidation(c, "'rating' is required", nil)
		return
	}

	fb := storage.Feedback{MessageIndex: req.MessageIndex, Rating: req.Rating, Comment: req.Comment}
	if err := s.Storage.RecordFeedback(c.Request.Context(), threadID, fb); err != nil {
		s.respondStorageErr(c, err, threadID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) respondStorageErr(c *gin.Context, err error, threadID string) {
	if err == storage.ErrNotFound {
		apierrors.AbortWithInputValidation(c, "thread not found", map[string]interface{}{"thread_id": threadID})
		return
	}
	apierrors.AbortWithUpstreamUnreachable(c, "storage operation failed", map[string]interface{}{"thread_id": threadID})
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
