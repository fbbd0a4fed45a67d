// Package registry implements the Conversation Registry (C4, spec.md §4.4): a
// process-wide thread_id -> ActiveConversation map guarded by a single mutex,
// a state machine, and the per-conversation set of in-flight tool tasks. The
// map and Initialize's get-or-create shape (one sync.Mutex, a single
// existence check under it) are adapted from the teacher's
// internal/streaming/manager.go StreamManager / GetOrCreateSession, which uses
// an RWMutex with a double check; cleanup_idle's "collect under lock, await outside the
// lock" split is grounded on the same file's CleanupExpiredSessions, adapted
// from a TTL-since-completion policy to an idle-since-last-activity one
// (spec.md §4.4).
package registry

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/frevagpt/orchestrator/internal/logger"
	"github.com/frevagpt/orchestrator/internal/streamvariant"
	"github.com/frevagpt/orchestrator/internal/toolmanager"
)

// State is the conversation state machine (spec.md §4.4).
type State string

const (
	StateStreaming State = "STREAMING"
	StateStopping  State = "STOPPING"
	StateEnded     State = "ENDED"
)

const threadIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const threadIDLength = 32

// ConversationSaver is the narrow slice of the Storage Facade (C7) the
// registry needs for end_and_save / cleanup_idle (spec.md §4.4, §4.7). Kept
// here rather than importing internal/storage to avoid a C4<->C7 import cycle
// (C7's worker pool may itself want conversation state in the future).
type ConversationSaver interface {
	Save(ctx context.Context, threadID, userID string, conv streamvariant.Conversation, appendToExisting bool) error
}

// ActiveConversation is one live conversational thread (spec.md §4.4). Fields
// are only safe to read/write while the owning Registry's lock is held;
// accessors below return copies.
type ActiveConversation struct {
	ThreadID     string
	UserID       string
	Messages     streamvariant.Conversation
	ToolManager  *toolmanager.Manager
	State        State
	LastActivity time.Time

	toolTasks map[string]context.CancelFunc
}

// Registry is the process-wide conversation map (spec.md §4.4).
type Registry struct {
	mu            sync.Mutex
	conversations map[string]*ActiveConversation
	log           *logger.Logger
}

// New creates an empty Registry.
func New(log *logger.Logger) *Registry {
	return &Registry{
		conversations: make(map[string]*ActiveConversation),
		log:           log,
	}
}

// NewThreadID generates a random 32-char alphanumeric id not currently
// registered (spec.md §4.4 new_thread_id).
func (r *Registry) NewThreadID() string {
	for {
		id := randomAlphanumeric(threadIDLength)

		r.mu.Lock()
		_, collides := r.conversations[id]
		r.mu.Unlock()

		if !collides {
			return id
		}
	}
}

func randomAlphanumeric(n int) string {
	out := make([]byte, n)
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on the standard reader does not fail in practice;
		// degrade to a fixed-but-unique-enough fallback rather than panic.
		for i := range buf {
			buf[i] = byte(time.Now().UnixNano() >> uint(i%8))
		}
	}
	for i, b := range buf {
		out[i] = threadIDAlphabet[int(b)%len(threadIDAlphabet)]
	}
	return string(out)
}

// InitOptions configures Initialize's tool-manager construction and replay
// behavior (spec.md §4.4 initialize).
type InitOptions struct {
	ToolServers  []toolmanager.ServerConfig
	ToolHeaders  map[string]string
	ReplayTarget string // tool name historical Code variants are replayed into; defaults to "code_interpreter"
}

// Initialize constructs an ActiveConversation for threadID if one is not
// already present, allocates its Tool Manager (absent on failure), and -- if
// the prior messages contain Code variants -- spawns a replay task that
// re-executes each code block in order to reconstruct kernel state (spec.md
// §4.4). Returns the conversation and whether it was newly created.
func (r *Registry) Initialize(ctx context.Context, threadID, userID string, messages streamvariant.Conversation, opts InitOptions) (*ActiveConversation, bool) {
	r.mu.Lock()
	if existing, ok := r.conversations[threadID]; ok {
		r.mu.Unlock()
		return existing, false
	}

	conv := &ActiveConversation{
		ThreadID:     threadID,
		UserID:       userID,
		Messages:     append(streamvariant.Conversation{}, messages...),
		State:        StateStreaming,
		LastActivity: time.Now(),
		toolTasks:    make(map[string]context.CancelFunc),
	}

	tm := toolmanager.New(opts.ToolServers, r.log)
	if err := tm.Initialize(ctx, opts.ToolHeaders); err != nil {
		if r.log != nil {
			r.log.WithThreadID(threadID).Warn("registry: tool manager initialization failed, conversation will run without tools", "error", err.Error())
		}
	} else {
		conv.ToolManager = tm
	}

	r.conversations[threadID] = conv
	r.mu.Unlock()

	if conv.ToolManager != nil {
		replayTarget := opts.ReplayTarget
		if replayTarget == "" {
			replayTarget = "code_interpreter"
		}
		r.maybeSpawnReplay(conv, messages, replayTarget)
	}

	return conv, true
}

// maybeSpawnReplay launches a background task that re-executes every prior
// Code variant into the tool server, in order, so the code interpreter's
// kernel state matches the conversation history on resume (spec.md §4.4).
func (r *Registry) maybeSpawnReplay(conv *ActiveConversation, messages streamvariant.Conversation, toolName string) {
	codeBlocks := make([]streamvariant.Variant, 0)
	for _, v := range messages {
		if v.Kind == streamvariant.KindCode {
			codeBlocks = append(codeBlocks, v)
		}
	}
	if len(codeBlocks) == 0 {
		return
	}

	taskID := "replay:" + conv.ThreadID
	taskCtx, cancel := context.WithCancel(context.Background())
	if !r.RegisterToolTask(conv.ThreadID, taskID, cancel) {
		cancel()
		return
	}

	go func() {
		defer r.UnregisterToolTask(conv.ThreadID, taskID)
		defer cancel()

		for _, block := range codeBlocks {
			select {
			case <-taskCtx.Done():
				return
			default:
			}

			var args map[string]interface{}
			if err := json.Unmarshal([]byte(block.Code), &args); err != nil {
				args = map[string]interface{}{"code": block.Code}
			}

			if _, err := conv.ToolManager.CallTool(taskCtx, "", toolName, args, nil); err != nil {
				if r.log != nil {
					r.log.WithThreadID(conv.ThreadID).Warn("registry: replay task failed to re-execute code block", "call_id", block.ID, "error", err.Error())
				}
			}
		}
	}()
}

// Add extends a conversation's messages and bumps last_activity (spec.md §4.4
// add). Returns false if threadID is not registered.
func (r *Registry) Add(threadID string, events ...streamvariant.Variant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[threadID]
	if !ok {
		return false
	}
	conv.Messages = append(conv.Messages, events...)
	conv.LastActivity = time.Now()
	return true
}

// GetState returns the conversation's state, or ok=false if missing.
func (r *Registry) GetState(threadID string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[threadID]
	if !ok {
		return "", false
	}
	return conv.State, true
}

// GetToolManager returns the conversation's tool manager, or ok=false if the
// conversation is missing (a present-but-nil ToolManager means the
// conversation is running without tools, per spec.md §4.4's "can be absent on
// failure").
func (r *Registry) GetToolManager(threadID string) (*toolmanager.Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[threadID]
	if !ok {
		return nil, false
	}
	return conv.ToolManager, true
}

// GetMessages returns a copy of the conversation's current message history.
func (r *Registry) GetMessages(threadID string) (streamvariant.Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[threadID]
	if !ok {
		return nil, false
	}
	out := make(streamvariant.Conversation, len(conv.Messages))
	copy(out, conv.Messages)
	return out, true
}

// Persist saves the conversation's current message history without changing
// its state, for the common turn-completed path where the conversation stays
// STREAMING and ready for another turn (unlike EndAndSave, which additionally
// transitions to ENDED for the user-stop and idle-eviction paths). Mirrors
// EndAndSave's copy-then-release-then-save split. Returns false if threadID is
// missing.
func (r *Registry) Persist(ctx context.Context, threadID string, storage ConversationSaver) bool {
	r.mu.Lock()
	conv, ok := r.conversations[threadID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	userID := conv.UserID
	messages := make(streamvariant.Conversation, len(conv.Messages))
	copy(messages, conv.Messages)
	r.mu.Unlock()

	if storage == nil {
		return true
	}
	if err := storage.Save(ctx, threadID, userID, messages, true); err != nil {
		if r.log != nil {
			r.log.WithThreadID(threadID).Error("registry: persist failed", "error", err.Error())
		}
	}
	return true
}

// RequestStop transitions a conversation to STOPPING (spec.md §4.4). Returns
// whether the conversation was found.
func (r *Registry) RequestStop(threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[threadID]
	if !ok {
		return false
	}
	conv.State = StateStopping
	return true
}

// EndAndSave transitions a conversation to ENDED and persists it via storage.
// The save is performed after the lock is released (spec.md §4.4: "await
// performed after releasing the lock"). Returns false if threadID is missing.
func (r *Registry) EndAndSave(ctx context.Context, threadID string, storage ConversationSaver) bool {
	r.mu.Lock()
	conv, ok := r.conversations[threadID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	conv.State = StateEnded
	userID := conv.UserID
	messages := make(streamvariant.Conversation, len(conv.Messages))
	copy(messages, conv.Messages)
	r.mu.Unlock()

	if storage != nil {
		if err := storage.Save(ctx, threadID, userID, messages, true); err != nil {
			if r.log != nil {
				r.log.WithThreadID(threadID).Error("registry: end_and_save failed", "error", err.Error())
			}
		}
	}
	return true
}

// Remove deletes a conversation entry. Returns whether it was present.
func (r *Registry) Remove(threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[threadID]
	if !ok {
		return false
	}
	if conv.ToolManager != nil {
		conv.ToolManager.Close()
	}
	delete(r.conversations, threadID)
	return true
}

// RegisterToolTask records a cancellable in-flight tool task under threadID
// (spec.md §4.4 register_tool_task). Returns false if the conversation is
// missing.
func (r *Registry) RegisterToolTask(threadID, taskID string, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[threadID]
	if !ok {
		return false
	}
	conv.toolTasks[taskID] = cancel
	return true
}

// UnregisterToolTask forgets a completed tool task (spec.md §4.4
// unregister_tool_task).
func (r *Registry) UnregisterToolTask(threadID, taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[threadID]
	if !ok {
		return
	}
	delete(conv.toolTasks, taskID)
}

// CancelToolTasks cancels every in-flight tool task for a conversation (spec.md
// §4.4 cancel_tool_tasks, and the Step C termination path). Returns the number
// of tasks cancelled.
func (r *Registry) CancelToolTasks(threadID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[threadID]
	if !ok {
		return 0
	}
	n := 0
	for id, cancel := range conv.toolTasks {
		cancel()
		delete(conv.toolTasks, id)
		n++
	}
	return n
}

// CleanupIdle evicts conversations whose last_activity is older than maxIdle
// (spec.md §4.4 cleanup_idle): entries are collected and popped under the
// lock, then end_and_save is awaited for each outside the lock. Returns the
// evicted thread ids.
func (r *Registry) CleanupIdle(ctx context.Context, maxIdle time.Duration, storage ConversationSaver) []string {
	now := time.Now()

	r.mu.Lock()
	type evicted struct {
		threadID string
		userID   string
		messages streamvariant.Conversation
	}
	var toSave []evicted
	for threadID, conv := range r.conversations {
		if now.Sub(conv.LastActivity) <= maxIdle {
			continue
		}
		for _, cancel := range conv.toolTasks {
			cancel()
		}
		if conv.ToolManager != nil {
			conv.ToolManager.Close()
		}
		messages := make(streamvariant.Conversation, len(conv.Messages))
		copy(messages, conv.Messages)
		toSave = append(toSave, evicted{threadID: threadID, userID: conv.UserID, messages: messages})
		delete(r.conversations, threadID)
	}
	r.mu.Unlock()

	evictedIDs := make([]string, 0, len(toSave))
	for _, e := range toSave {
		evictedIDs = append(evictedIDs, e.threadID)
		if storage == nil {
			continue
		}
		if err := storage.Save(ctx, e.threadID, e.userID, e.messages, true); err != nil {
			if r.log != nil {
				r.log.WithThreadID(e.threadID).Error("registry: cleanup_idle save failed", "error", err.Error())
			}
		}
	}

	if len(evictedIDs) > 0 && r.log != nil {
		r.log.Info("registry: cleaned up idle conversations", "count", len(evictedIDs))
	}

	return evictedIDs
}

// Count returns the number of currently tracked conversations (for metrics).
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conversations)
}

var _ fmt.Stringer = State("")

func (s State) String() string { return string(s) }
