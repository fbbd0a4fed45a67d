package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/frevagpt/orchestrator/internal/streamvariant"
)

// MemoryStore is the FREVAGPT_DEV / test Store backend: everything lives in a
// process-local map guarded by one mutex. Grounded on
// original_source/src/services/storage/disk_storage.py's role as the
// no-external-dependency dev storage; no pack example ships a dedicated
// in-memory KV library for this throwaway role, so this is plain
// sync.Mutex + map rather than a third-party dependency (see DESIGN.md).
type MemoryStore struct {
	mu      sync.Mutex
	threads map[string]*memoryThread
}

type memoryThread struct {
	userID    string
	topic     string
	createdAt time.Time
	updatedAt time.Time
	events    streamvariant.Conversation
	feedback  []Feedback
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string]*memoryThread)}
}

func (m *MemoryStore) Save(ctx context.Context, threadID, userID string, conv streamvariant.Conversation, appendToExisting bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := make(streamvariant.Conversation, len(conv))
	copy(events, conv)

	existing, ok := m.threads[threadID]
	if !ok || !appendToExisting {
		m.threads[threadID] = &memoryThread{
			userID:    userID,
			topic:     deriveTopic(events),
			createdAt: time.Now(),
			updatedAt: time.Now(),
			events:    events,
		}
		return nil
	}

	existing.events = events
	existing.updatedAt = time.Now()
	if existing.topic == "" {
		existing.topic = deriveTopic(events)
	}
	return nil
}

func (m *MemoryStore) Read(ctx context.Context, threadID string) (streamvariant.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.threads[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make(streamvariant.Conversation, len(t.events))
	copy(out, t.events)
	return out, nil
}

func (m *MemoryStore) ListRecent(ctx context.Context, userID string, limit int) ([]ThreadSummary, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []ThreadSummary
	for threadID, t := range m.threads {
		if t.userID != userID {
			continue
		}
		all = append(all, m.summary(threadID, t))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })

	total := len(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (m *MemoryStore) Delete(ctx context.Context, threadID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.threads[threadID]; !ok {
		return false, nil
	}
	delete(m.threads, threadID)
	return true, nil
}

func (m *MemoryStore) UpdateTopic(ctx context.Context, threadID, topic string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.threads[threadID]
	if !ok {
		return false, nil
	}
	t.topic = topic
	t.updatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) QueryByTopic(ctx context.Context, userID, query string, numThreads int) ([]ThreadSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	query = strings.ToLower(query)
	var out []ThreadSummary
	for threadID, t := range m.threads {
		if t.userID != userID {
			continue
		}
		if strings.Contains(strings.ToLower(t.topic), query) {
			out = append(out, m.summary(threadID, t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if numThreads > 0 && len(out) > numThreads {
		out = out[:numThreads]
	}
	return out, nil
}

func (m *MemoryStore) QueryByVariant(ctx context.Context, userID string, kind streamvariant.Kind, query string, numThreads int) ([]ThreadSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	query = strings.ToLower(query)
	var out []ThreadSummary
	for threadID, t := range m.threads {
		if t.userID != userID {
			continue
		}
		for _, v := range t.events {
			if v.Kind != kind {
				continue
			}
			if strings.Contains(strings.ToLower(v.Text), query) {
				out = append(out, m.summary(threadID, t))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if numThreads > 0 && len(out) > numThreads {
		out = out[:numThreads]
	}
	return out, nil
}

func (m *MemoryStore) RecordFeedback(ctx context.Context, threadID string, fb Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.threads[threadID]
	if !ok {
		return ErrNotFound
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now()
	}
	t.feedback = append(t.feedback, fb)
	return nil
}

func (m *MemoryStore) ReplaceMessages(ctx context.Context, threadID string, events streamvariant.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.threads[threadID]
	if !ok {
		return ErrNotFound
	}
	out := make(streamvariant.Conversation, len(events))
	copy(out, events)
	t.events = out
	t.updatedAt = time.Now()
	return nil
}

func (m *MemoryStore) summary(threadID string, t *memoryThread) ThreadSummary {
	return ThreadSummary{
		ThreadID:  threadID,
		UserID:    t.userID,
		Topic:     t.topic,
		CreatedAt: t.createdAt,
		UpdatedAt: t.updatedAt,
	}
}
