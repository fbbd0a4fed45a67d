package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frevagpt/orchestrator/internal/logger"
	"github.com/frevagpt/orchestrator/internal/streamvariant"
)

// saveJob is one queued Save call (FREVAGPT_STORAGE_ASYNC=true path).
type saveJob struct {
	threadID         string
	userID           string
	conv             streamvariant.Conversation
	appendToExisting bool
}

// AsyncSaver wraps a Store so Save calls are queued and applied by a fixed
// worker pool instead of blocking the caller, grounded on the teacher's
// internal/messaging/service.go (buffered channel + sync.WaitGroup worker
// pool + shutdown-channel drain). Every other Store method passes straight
// through to the wrapped backend: only Save benefits from decoupling the
// orchestrator's turn-completion path from storage latency (spec.md §4.7,
// §5 "persistence must not block the stream").
type AsyncSaver struct {
	Store
	jobs         chan saveJob
	workerPool   sync.WaitGroup
	shutdown     chan struct{}
	closed       atomic.Bool
	log          *logger.Logger
	saveTimeout  time.Duration
}

// NewAsyncSaver starts a worker pool of size workers reading from a queue of
// capacity queueSize. saveTimeout bounds each queued Save call.
func NewAsyncSaver(backend Store, workers, queueSize int, saveTimeout time.Duration, log *logger.Logger) *AsyncSaver {
	if workers <= 0 {
		workers = 1
	}
	if saveTimeout <= 0 {
		saveTimeout = 10 * time.Second
	}
	a := &AsyncSaver{
		Store:       backend,
		jobs:        make(chan saveJob, queueSize),
		shutdown:    make(chan struct{}),
		log:         log,
		saveTimeout: saveTimeout,
	}
	for i := 0; i < workers; i++ {
		a.workerPool.Add(1)
		go a.worker()
	}
	return a
}

func (a *AsyncSaver) worker() {
	defer a.workerPool.Done()
	for {
		select {
		case job := <-a.jobs:
			a.handle(job)
		case <-a.shutdown:
			for {
				select {
				case job := <-a.jobs:
					a.handle(job)
				default:
					return
				}
			}
		}
	}
}

func (a *AsyncSaver) handle(job saveJob) {
	ctx, cancel := context.WithTimeout(context.Background(), a.saveTimeout)
	defer cancel()
	if err := a.Store.Save(ctx, job.threadID, job.userID, job.conv, job.appendToExisting); err != nil {
		if a.log != nil {
			a.log.Error("storage: async save failed", "thread_id", job.threadID, "error", err.Error())
		}
	}
}

// Save enqueues the save and returns immediately. A full queue falls back to
// a blocking synchronous save rather than silently dropping a conversation's
// history, mirroring the teacher's "queue full" handling but choosing
// durability over the teacher's drop-and-warn (message-storage loss is
// acceptable there; conversation-history loss is not here).
func (a *AsyncSaver) Save(ctx context.Context, threadID, userID string, conv streamvariant.Conversation, appendToExisting bool) error {
	if a.closed.Load() {
		return fmt.Errorf("storage: async saver is shutting down")
	}

	events := make(streamvariant.Conversation, len(conv))
	copy(events, conv)
	job := saveJob{threadID: threadID, userID: userID, conv: events, appendToExisting: appendToExisting}

	select {
	case a.jobs <- job:
		return nil
	default:
		if a.log != nil {
			a.log.Warn("storage: save queue full, saving synchronously", "thread_id", threadID)
		}
		return a.Store.Save(ctx, threadID, userID, events, appendToExisting)
	}
}

// Shutdown drains the queue and waits for in-flight saves to finish.
func (a *AsyncSaver) Shutdown() {
	a.closed.Store(true)
	close(a.shutdown)
	a.workerPool.Wait()
}
