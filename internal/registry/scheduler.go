package registry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/frevagpt/orchestrator/internal/logger"
)

var (
	activeConversationsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "frevagpt_active_conversations",
		Help: "Number of conversations currently tracked by the registry.",
	})
	idleEvictionsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frevagpt_idle_evictions_total",
		Help: "Total number of conversations evicted by cleanup_idle.",
	})
)

func init() {
	prometheus.MustRegister(activeConversationsGauge, idleEvictionsCounter)
}

// Scheduler periodically runs CleanupIdle on a cron schedule (spec.md §4.4
// cleanup_idle; teacher runs a bare time.Ticker in
// internal/streaming/manager.go's cleanupLoop -- this generalizes that to a
// cron expression per FREVAGPT_CLEANUP_CRON so operators can tune eviction
// cadence without a redeploy).
type Scheduler struct {
	registry *Registry
	storage  ConversationSaver
	maxIdle  time.Duration
	log      *logger.Logger

	cron *cron.Cron
}

// NewScheduler builds a Scheduler bound to registry; the schedule itself is
// given to Start.
func NewScheduler(registry *Registry, storage ConversationSaver, maxIdle time.Duration, log *logger.Logger) *Scheduler {
	return &Scheduler{
		registry: registry,
		storage:  storage,
		maxIdle:  maxIdle,
		log:      log,
		cron:     cron.New(),
	}
}

// Start registers the cleanup job on cronExpr and begins running it. cronExpr
// is a standard 5-field cron expression (e.g. "*/5 * * * *") or a descriptor
// such as "@every 1m".
func (s *Scheduler) Start(cronExpr string) error {
	_, err := s.cron.AddFunc(cronExpr, s.runOnce)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight run to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	evicted := s.registry.CleanupIdle(ctx, s.maxIdle, s.storage)
	idleEvictionsCounter.Add(float64(len(evicted)))
	activeConversationsGauge.Set(float64(s.registry.Count()))

	if len(evicted) > 0 && s.log != nil {
		s.log.Info("registry: scheduled cleanup_idle evicted conversations", "count", len(evicted))
	}
}
