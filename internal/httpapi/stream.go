package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/frevagpt/orchestrator/internal/apierrors"
	"github.com/frevagpt/orchestrator/internal/orchestrator"
	"github.com/frevagpt/orchestrator/internal/registry"
	"github.com/frevagpt/orchestrator/internal/storage"
	"github.com/frevagpt/orchestrator/internal/streamvariant"
	"github.com/gin-gonic/gin"
)

const (
	defaultModel          = "gpt-4o"
	imageFragmentMaxBytes = 16 * 1024
	boundaryPollInterval  = 3 * time.Second
)

// handleStreamResponse implements GET /api/chatbot/streamresponse (spec.md §6,
// §4.8): resolves/mints a thread id, prepares the conversation in the
// registry (loading history from storage on resume), then runs the
// orchestrator and frames every Stream Variant it produces as one
// newline-delimited JSON object per line.
func (s *Server) handleStreamResponse(c *gin.Context) {
	principal, _ := GetPrincipal(c)

	input := c.Query("input")
	if input == "" {
		apierrors.AbortWithInputValidation(c, "query parameter 'input' is required", nil)
		return
	}

	model := c.Query("chatbot")
	if model == "" {
		model = defaultModel
	}

	threadID := c.Query("thread_id")
	isNewThread := threadID == ""
	if isNewThread {
		threadID = s.Registry.NewThreadID()
	}

	ctx := c.Request.Context()

	var history streamvariant.Conversation
	if !isNewThread {
		if _, ok := s.Registry.GetState(threadID); !ok {
			loaded, err := s.Storage.Read(ctx, threadID)
			switch {
			case err == nil:
				history = loaded
			case err == storage.ErrNotFound:
				// Unknown thread id supplied by the caller: treat as a fresh thread.
			default:
				apierrors.AbortWithUpstreamUnreachable(c, "failed to load conversation history", map[string]interface{}{"thread_id": threadID})
				return
			}
		}
	}

	s.Registry.Initialize(ctx, threadID, principal.Username, history, registry.InitOptions{
		ToolServers: s.toolServers,
		ToolHeaders: principal.toolHeaders(),
	})

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("X-Accel-Buffering", "no")
	c.Header("Cache-Control", "no-cache, no-transform")
	c.Writer.WriteHeader(http.StatusOK)

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := s.Orchestrator.Run(turnCtx, orchestrator.Input{
		Model:        model,
		ThreadID:     threadID,
		UserInput:    input,
		SystemPrompt: BuildSystemPrompt(s.Config.SystemPromptFile),
	})

	ticker := time.NewTicker(boundaryPollInterval)
	defer ticker.Stop()

	flusher, canFlush := c.Writer.(http.Flusher)

	for {
		select {
		case v, ok := <-events:
			if !ok {
				return
			}
			if err := s.writeVariant(c, v); err != nil {
				s.Log.Warn("httpapi: failed writing NDJSON line, client likely disconnected", "thread_id", threadID, "error", err.Error())
				cancel()
				return
			}
			if canFlush {
				flusher.Flush()
			}
		case <-ticker.C:
			if state, ok := s.Registry.GetState(threadID); ok && state == registry.StateStopping {
				s.writeVariant(c, streamvariant.NewStreamEnd("Stream is stopped by user."))
				if canFlush {
					flusher.Flush()
				}
				cancel()
				return
			}
		case <-ctx.Done():
			cancel()
			return
		}
	}
}

// writeVariant serializes one Stream Variant to its wire form and writes it
// as a single NDJSON line, except Image variants: spec.md §4.8/§6 require
// their base64 payload split into <=16KiB fragments, each its own JSON line
// sharing the same id, so a single event never blocks the connection on one
// oversized write.
func (s *Server) writeVariant(c *gin.Context, v streamvariant.Variant) error {
	if v.Kind != streamvariant.KindImage || len(v.B64) <= imageFragmentMaxBytes {
		return writeNDJSONLine(c, v)
	}

	for start := 0; start < len(v.B64); start += imageFragmentMaxBytes {
		end := start + imageFragmentMaxBytes
		if end > len(v.B64) {
			end = len(v.B64)
		}
		fragment := streamvariant.NewImage(v.B64[start:end], v.MIME, v.ID)
		if err := writeNDJSONLine(c, fragment); err != nil {
			return err
		}
	}
	return nil
}

func writeNDJSONLine(c *gin.Context, v streamvariant.Variant) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	raw = append(raw, '\n')
	_, err = c.Writer.Write(raw)
	return err
}
