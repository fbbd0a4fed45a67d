// Package storage implements the Storage Facade (C7, spec.md §4.7): the
// backend-agnostic contract the registry and the HTTP boundary use to
// persist, list, search, and edit conversations. Two backends are provided --
// a Firestore-backed one grounded on the teacher's internal/messaging/firestore.go
// (FREVAGPT_STORAGE_BACKEND=firestore, production) and an in-memory one
// (FREVAGPT_STORAGE_BACKEND=memory, dev/test, grounded on
// original_source/src/services/storage/disk_storage.py's dev-storage role).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/frevagpt/orchestrator/internal/streamvariant"
)

// ErrNotFound is returned by Read/RecordFeedback/ReplaceMessages when thread_id
// is unknown (spec.md §4.7 "raise not-found if unknown"); UpdateTopic and
// Delete report an unknown thread as false with a nil error instead.
var ErrNotFound = errors.New("storage: thread not found")

// ThreadSummary is one row of list_recent/query_by_topic/query_by_variant
// results (spec.md §4.7); it never carries the full Conversation.
type ThreadSummary struct {
	ThreadID  string
	UserID    string
	Topic     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Feedback is one record_feedback call (SPEC_FULL.md §4.9, supplemented from
// original_source/src/api/chatbot/userfeedback.py).
type Feedback struct {
	MessageIndex int
	Rating       string
	Comment      string
	CreatedAt    time.Time
}

// Store is the C7 Storage Facade contract. Every orchestrator/HTTP-boundary
// component that needs persistence depends on this interface, never a
// concrete backend, so backends stay interchangeable (spec.md §4.7).
type Store interface {
	// Save persists conv under threadID/userID. When appendToExisting is
	// true, conv replaces the document contents but the topic and creation
	// timestamp are preserved from the existing document if present; when
	// false, any existing document is overwritten outright (first save of a
	// conversation). The topic is derived from the first User variant's text
	// when the document has none yet.
	Save(ctx context.Context, threadID, userID string, conv streamvariant.Conversation, appendToExisting bool) error

	// Read returns the ordered wire events for threadID, or ErrNotFound.
	Read(ctx context.Context, threadID string) (streamvariant.Conversation, error)

	// ListRecent returns userID's most recently updated threads, most recent
	// first, and the total number of threads owned by userID.
	ListRecent(ctx context.Context, userID string, limit int) ([]ThreadSummary, int, error)

	// Delete removes a thread. Returns whether it existed.
	Delete(ctx context.Context, threadID string) (bool, error)

	// UpdateTopic sets a thread's topic directly (spec.md's explicit
	// update_topic, distinct from Save's implicit first-turn derivation).
	UpdateTopic(ctx context.Context, threadID, topic string) (bool, error)

	// QueryByTopic performs a prefix-mapped full-text search over userID's
	// thread topics (spec.md §4.7 query_by_topic).
	QueryByTopic(ctx context.Context, userID, query string, numThreads int) ([]ThreadSummary, error)

	// QueryByVariant performs the analogous search over message content of a
	// given Stream Variant kind (spec.md §4.7 query_by_variant) -- typically
	// KindUser or KindAssistant text.
	QueryByVariant(ctx context.Context, userID string, kind streamvariant.Kind, query string, numThreads int) ([]ThreadSummary, error)

	// RecordFeedback appends a user rating/comment for one message in a
	// thread (SPEC_FULL.md §4.9 supplemented feature).
	RecordFeedback(ctx context.Context, threadID string, fb Feedback) error

	// ReplaceMessages overwrites a thread's stored events wholesale, used by
	// the manual conversation-repair HTTP handler (SPEC_FULL.md §4.9
	// supplemented feature, grounded on original_source's editthread.py).
	ReplaceMessages(ctx context.Context, threadID string, events streamvariant.Conversation) error
}

// deriveTopic summarizes the first User variant's text as a thread topic when
// none is set yet (spec.md §4.7 "derive/keep topic"), truncated to a short
// preview rather than stored in full.
func deriveTopic(conv streamvariant.Conversation) string {
	const maxTopicLen = 80
	for _, v := range conv {
		if v.Kind == streamvariant.KindUser && v.Text != "" {
			text := v.Text
			if len(text) > maxTopicLen {
				text = text[:maxTopicLen]
			}
			return text
		}
	}
	return ""
}
