package storage

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/frevagpt/orchestrator/internal/streamvariant"
)

// threadDoc is the Firestore document shape at threads/{thread_id}, grounded
// on internal/messaging/firestore.go's ChatMessage document pattern. Each
// event is stored pre-encoded as its own JSON string (via Variant's
// MarshalJSON) rather than a native Firestore map, so the wire format's
// custom tagged-union encoding stays the single source of truth instead of
// being reimplemented against Firestore's struct tags.
type threadDoc struct {
	UserID    string              `firestore:"user_id"`
	Topic     string              `firestore:"topic"`
	CreatedAt time.Time           `firestore:"created_at"`
	UpdatedAt time.Time           `firestore:"updated_at"`
	Events    []string            `firestore:"events"`
	Feedback  []firestoreFeedback `firestore:"feedback,omitempty"`
}

func encodeEvents(conv streamvariant.Conversation) ([]string, error) {
	out := make([]string, 0, len(conv))
	for _, v := range conv {
		raw, err := v.MarshalJSON()
		if err != nil {
			return nil, err
		}
		out = append(out, string(raw))
	}
	return out, nil
}

func decodeEvents(encoded []string) (streamvariant.Conversation, error) {
	out := make(streamvariant.Conversation, 0, len(encoded))
	for _, raw := range encoded {
		var v streamvariant.Variant
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type firestoreFeedback struct {
	MessageIndex int       `firestore:"message_index"`
	Rating       string    `firestore:"rating"`
	Comment      string    `firestore:"comment"`
	CreatedAt    time.Time `firestore:"created_at"`
}

// FirestoreStore is the production C7 backend, grounded on
// internal/messaging/firestore.go's FirestoreClient: docRef.Create for
// idempotent first-save, codes.AlreadyExists treated as success,
// codes.NotFound mapped to a typed not-found error.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore wraps a connected Firestore client.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (f *FirestoreStore) doc(threadID string) *firestore.DocumentRef {
	return f.client.Collection("threads").Doc(threadID)
}

func (f *FirestoreStore) Save(ctx context.Context, threadID, userID string, conv streamvariant.Conversation, appendToExisting bool) error {
	events, err := encodeEvents(conv)
	if err != nil {
		return status.Errorf(codes.Internal, "storage: encode events for thread %s: %v", threadID, err)
	}

	docRef := f.doc(threadID)
	now := time.Now()

	if appendToExisting {
		snap, err := docRef.Get(ctx)
		if err == nil && snap.Exists() {
			var existing threadDoc
			if derr := snap.DataTo(&existing); derr == nil {
				topic := existing.Topic
				if topic == "" {
					topic = deriveTopic(conv)
				}
				_, err := docRef.Set(ctx, threadDoc{
					UserID:    userID,
					Topic:     topic,
					CreatedAt: existing.CreatedAt,
					UpdatedAt: now,
					Events:    events,
					Feedback:  existing.Feedback,
				})
				if err != nil {
					return status.Errorf(codes.Internal, "storage: save thread %s: %v", threadID, err)
				}
				return nil
			}
		}
	}

	doc := threadDoc{
		UserID:    userID,
		Topic:     deriveTopic(conv),
		CreatedAt: now,
		UpdatedAt: now,
		Events:    events,
	}

	// Create is idempotent for the first save: a retried first save racing
	// with itself (or with a concurrent appendToExisting save that lost the
	// Get-then-Set race above) surfaces as AlreadyExists, not an error.
	_, err = docRef.Create(ctx, doc)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			_, err := docRef.Set(ctx, doc)
			if err != nil {
				return status.Errorf(codes.Internal, "storage: save thread %s: %v", threadID, err)
			}
			return nil
		}
		return status.Errorf(codes.Internal, "storage: save thread %s: %v", threadID, err)
	}
	return nil
}

func (f *FirestoreStore) Read(ctx context.Context, threadID string) (streamvariant.Conversation, error) {
	snap, err := f.doc(threadID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, status.Errorf(codes.Internal, "storage: read thread %s: %v", threadID, err)
	}
	var doc threadDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, status.Errorf(codes.Internal, "storage: decode thread %s: %v", threadID, err)
	}
	return decodeEvents(doc.Events)
}

func (f *FirestoreStore) ListRecent(ctx context.Context, userID string, limit int) ([]ThreadSummary, int, error) {
	iter := f.client.Collection("threads").Where("user_id", "==", userID).Documents(ctx)
	defer iter.Stop()

	var all []ThreadSummary
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, 0, status.Errorf(codes.Internal, "storage: list_recent for user %s: %v", userID, err)
		}
		var doc threadDoc
		if err := snap.DataTo(&doc); err != nil {
			continue
		}
		all = append(all, ThreadSummary{
			ThreadID: snap.Ref.ID, UserID: doc.UserID, Topic: doc.Topic,
			CreatedAt: doc.CreatedAt, UpdatedAt: doc.UpdatedAt,
		})
	}

	sortSummariesByUpdatedDesc(all)
	total := len(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (f *FirestoreStore) Delete(ctx context.Context, threadID string) (bool, error) {
	snap, err := f.doc(threadID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, status.Errorf(codes.Internal, "storage: delete thread %s: %v", threadID, err)
	}
	if !snap.Exists() {
		return false, nil
	}
	if _, err := f.doc(threadID).Delete(ctx); err != nil {
		return false, status.Errorf(codes.Internal, "storage: delete thread %s: %v", threadID, err)
	}
	return true, nil
}

func (f *FirestoreStore) UpdateTopic(ctx context.Context, threadID, topic string) (bool, error) {
	_, err := f.doc(threadID).Update(ctx, []firestore.Update{
		{Path: "topic", Value: topic},
		{Path: "updated_at", Value: time.Now()},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, status.Errorf(codes.Internal, "storage: update_topic thread %s: %v", threadID, err)
	}
	return true, nil
}

// QueryByTopic performs a prefix-mapped search (spec.md §4.7): Firestore has
// no native substring search, so this follows the common Firestore full-text
// workaround of a range query over a lowercased field between [query, query+].
func (f *FirestoreStore) QueryByTopic(ctx context.Context, userID, query string, numThreads int) ([]ThreadSummary, error) {
	q := strings.ToLower(query)
	iter := f.client.Collection("threads").
		Where("user_id", "==", userID).
		OrderBy("topic", firestore.Asc).
		StartAt(q).
		EndAt(q + "").
		Documents(ctx)
	defer iter.Stop()

	var out []ThreadSummary
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, status.Errorf(codes.Internal, "storage: query_by_topic for user %s: %v", userID, err)
		}
		var doc threadDoc
		if err := snap.DataTo(&doc); err != nil {
			continue
		}
		out = append(out, ThreadSummary{
			ThreadID: snap.Ref.ID, UserID: doc.UserID, Topic: doc.Topic,
			CreatedAt: doc.CreatedAt, UpdatedAt: doc.UpdatedAt,
		})
		if numThreads > 0 && len(out) >= numThreads {
			break
		}
	}
	return out, nil
}

// QueryByVariant scans each candidate thread's events for a text match of the
// given kind. Firestore has no server-side way to search inside the nested
// events array's text fields, so this fetches the user's threads and filters
// client-side -- acceptable for a per-user working set, not a global search.
func (f *FirestoreStore) QueryByVariant(ctx context.Context, userID string, kind streamvariant.Kind, query string, numThreads int) ([]ThreadSummary, error) {
	iter := f.client.Collection("threads").Where("user_id", "==", userID).Documents(ctx)
	defer iter.Stop()

	q := strings.ToLower(query)
	var out []ThreadSummary
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, status.Errorf(codes.Internal, "storage: query_by_variant for user %s: %v", userID, err)
		}
		var doc threadDoc
		if err := snap.DataTo(&doc); err != nil {
			continue
		}
		events, err := decodeEvents(doc.Events)
		if err != nil {
			continue
		}
		for _, v := range events {
			if v.Kind == kind && strings.Contains(strings.ToLower(v.Text), q) {
				out = append(out, ThreadSummary{
					ThreadID: snap.Ref.ID, UserID: doc.UserID, Topic: doc.Topic,
					CreatedAt: doc.CreatedAt, UpdatedAt: doc.UpdatedAt,
				})
				break
			}
		}
		if numThreads > 0 && len(out) >= numThreads {
			break
		}
	}
	return out, nil
}

func (f *FirestoreStore) RecordFeedback(ctx context.Context, threadID string, fb Feedback) error {
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now()
	}
	_, err := f.doc(threadID).Update(ctx, []firestore.Update{
		{Path: "feedback", Value: firestore.ArrayUnion(firestoreFeedback{
			MessageIndex: fb.MessageIndex,
			Rating:       fb.Rating,
			Comment:      fb.Comment,
			CreatedAt:    fb.CreatedAt,
		})},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return status.Errorf(codes.Internal, "storage: record_feedback thread %s: %v", threadID, err)
	}
	return nil
}

func (f *FirestoreStore) ReplaceMessages(ctx context.Context, threadID string, events streamvariant.Conversation) error {
	encoded, err := encodeEvents(events)
	if err != nil {
		return status.Errorf(codes.Internal, "storage: encode events for thread %s: %v", threadID, err)
	}
	_, err = f.doc(threadID).Update(ctx, []firestore.Update{
		{Path: "events", Value: encoded},
		{Path: "updated_at", Value: time.Now()},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return status.Errorf(codes.Internal, "storage: replace_messages thread %s: %v", threadID, err)
	}
	return nil
}

func sortSummariesByUpdatedDesc(summaries []ThreadSummary) {
	for i := 1; i < len(summaries); i++ {
		for j := i; j > 0 && summaries[j].UpdatedAt.After(summaries[j-1].UpdatedAt); j-- {
			summaries[j], summaries[j-1] = summaries[j-1], summaries[j]
		}
	}
}
