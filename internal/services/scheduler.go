package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"wow-auction-collector/internal/models"
)

// ErrShuttingDown is returned by manual triggers received after the
// termination signal.
var ErrShuttingDown = errors.New("scheduler is shutting down")

// ErrSweepRunning is returned when a manual full sweep is requested while
// one is already in flight.
var ErrSweepRunning = errors.New("an ingestion sweep is already running")

type realmSource interface {
	ConnectedRealmIDs(ctx context.Context) ([]int64, error)
}

type entityIngestor interface {
	Ingest(ctx context.Context, entity models.EntityRef) (*IngestSummary, error)
}

type queueDrainer interface {
	Drain(ctx context.Context, maxBatch int) (*DrainSummary, error)
	Len() int
}

type retentionStore interface {
	DeleteListingsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type taxonomyCollector interface {
	Collect(ctx context.Context) (int, error)
}

type SchedulerConfig struct {
	Region            string
	CollectInterval   time.Duration
	BackfillInterval  time.Duration
	BackfillBatchSize int
	ItemClassInterval time.Duration
	MaxRealms         int // realms per sweep, 0 = all
	RetentionDays     int // 0 disables retention
}

// SchedulerStatus is the externally visible state.
type SchedulerStatus struct {
	State        string `json:"state"`
	Collecting   bool   `json:"collecting"`
	Backfilling  bool   `json:"backfilling"`
	ShuttingDown bool   `json:"shutting_down"`
	QueueSize    int    `json:"queue_size"`
}

// Scheduler drives periodic ingestion sweeps, backfill drains, taxonomy
// refreshes and retention cleanup. The ingestion and backfill loops run
// independently and may overlap; shutdown stops new cycles but lets
// in-flight ones finish.
type Scheduler struct {
	realms    realmSource
	ingestor  entityIngestor
	queue     queueDrainer
	retention retentionStore
	classes   taxonomyCollector
	cfg       SchedulerConfig
	log       *logrus.Entry

	mu           sync.Mutex
	collecting   bool
	backfilling  bool
	shuttingDown bool
	wg           sync.WaitGroup
}

func NewScheduler(realms realmSource, ingestor entityIngestor, queue queueDrainer, retention retentionStore, classes taxonomyCollector, cfg SchedulerConfig, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		realms:    realms,
		ingestor:  ingestor,
		queue:     queue,
		retention: retention,
		classes:   classes,
		cfg:       cfg,
		log:       log,
	}
}

// Run blocks until ctx is cancelled, then waits for in-flight cycles.
// Cycle work deliberately runs on a background context: cancellation stops
// new cycles from starting but never aborts an upstream call mid-flight;
// per-call timeouts bound how long the tail can take.
func (s *Scheduler) Run(ctx context.Context) {
	collectTicker := time.NewTicker(s.cfg.CollectInterval)
	defer collectTicker.Stop()
	backfillTicker := time.NewTicker(s.cfg.BackfillInterval)
	defer backfillTicker.Stop()
	classTicker := time.NewTicker(s.cfg.ItemClassInterval)
	defer classTicker.Stop()

	// First sweep runs immediately rather than one full interval in.
	s.spawn(func(workCtx context.Context) {
		s.collectItemClasses(workCtx)
		s.runSweep(workCtx)
	})

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.shuttingDown = true
			s.mu.Unlock()
			s.log.Info("shutdown signal received, waiting for in-flight cycles")
			s.wg.Wait()
			s.log.Info("scheduler stopped")
			return
		case <-collectTicker.C:
			s.spawn(s.runSweep)
		case <-backfillTicker.C:
			s.spawn(s.runDrain)
		case <-classTicker.C:
			s.spawn(s.collectItemClasses)
		}
	}
}

// spawn runs one cycle in the waitgroup unless shutdown has begun.
func (s *Scheduler) spawn(cycle func(ctx context.Context)) {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		cycle(context.Background())
	}()
}

// runSweep ingests every known entity: each connected realm (bounded by
// MaxRealms) plus the region commodity market. A failing entity is logged
// and skipped, never aborting the sweep. Retention runs at the end of a
// sweep when configured.
func (s *Scheduler) runSweep(ctx context.Context) {
	s.mu.Lock()
	if s.collecting {
		s.mu.Unlock()
		s.log.Warn("sweep requested while one is running, skipping")
		return
	}
	s.collecting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.collecting = false
		s.mu.Unlock()
	}()

	started := time.Now()
	realmIDs, err := s.realms.ConnectedRealmIDs(ctx)
	if err != nil {
		s.log.WithError(err).Error("connected realm index fetch failed, sweep aborted")
		return
	}
	if s.cfg.MaxRealms > 0 && len(realmIDs) > s.cfg.MaxRealms {
		realmIDs = realmIDs[:s.cfg.MaxRealms]
	}

	entities := make([]models.EntityRef, 0, len(realmIDs)+1)
	for _, id := range realmIDs {
		entities = append(entities, models.RealmEntity(id))
	}
	entities = append(entities, models.CommoditiesEntity(s.cfg.Region))

	succeeded, failed := 0, 0
	for _, entity := range entities {
		if s.isShuttingDown() {
			s.log.Warn("sweep interrupted by shutdown")
			break
		}
		if _, err := s.ingestor.Ingest(ctx, entity); err != nil {
			failed++
			s.log.WithField("entity", entity.String()).WithError(err).Error("entity ingestion failed")
			continue
		}
		succeeded++
	}

	s.log.WithFields(logrus.Fields{
		"entities":  len(entities),
		"succeeded": succeeded,
		"failed":    failed,
		"elapsed":   time.Since(started).Round(time.Millisecond).String(),
	}).Info("ingestion sweep finished")

	if s.cfg.RetentionDays > 0 {
		s.runRetention(ctx)
	}
}

func (s *Scheduler) runDrain(ctx context.Context) {
	s.mu.Lock()
	if s.backfilling {
		s.mu.Unlock()
		return
	}
	s.backfilling = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.backfilling = false
		s.mu.Unlock()
	}()

	if s.queue.Len() == 0 {
		return
	}
	summary, err := s.queue.Drain(ctx, s.cfg.BackfillBatchSize)
	if err != nil {
		s.log.WithError(err).Error("backfill drain failed")
		return
	}
	s.log.WithFields(logrus.Fields{
		"processed": summary.Processed,
		"succeeded": summary.Succeeded,
		"skipped":   summary.Skipped,
		"failed":    summary.Failed,
		"not_found": summary.NotFound,
		"remaining": summary.Remaining,
	}).Info("backfill drain finished")
}

func (s *Scheduler) runRetention(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	deleted, err := s.retention.DeleteListingsOlderThan(ctx, cutoff)
	if err != nil {
		s.log.WithError(err).Error("retention cleanup failed")
		return
	}
	if deleted > 0 {
		s.log.WithFields(logrus.Fields{
			"deleted": deleted,
			"cutoff":  cutoff.Format(time.RFC3339),
		}).Info("old listings removed")
	}
}

func (s *Scheduler) collectItemClasses(ctx context.Context) {
	if _, err := s.classes.Collect(ctx); err != nil {
		s.log.WithError(err).Error("item class collection failed")
	}
}

// TriggerIngest starts a manual ingestion in the background: a full sweep
// when entity is nil, a single entity otherwise. Never blocks the caller.
func (s *Scheduler) TriggerIngest(entity *models.EntityRef) error {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	if entity == nil && s.collecting {
		s.mu.Unlock()
		return ErrSweepRunning
	}
	s.mu.Unlock()

	if entity == nil {
		s.spawn(s.runSweep)
		return nil
	}
	e := *entity
	s.spawn(func(ctx context.Context) {
		if _, err := s.ingestor.Ingest(ctx, e); err != nil {
			s.log.WithField("entity", e.String()).WithError(err).Error("manual ingestion failed")
		}
	})
	return nil
}

// TriggerBackfill starts a manual queue drain in the background.
func (s *Scheduler) TriggerBackfill() error {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	s.mu.Unlock()

	s.spawn(s.runDrain)
	return nil
}

func (s *Scheduler) isShuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shuttingDown
}

// Status reports the current state for the operational API.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SchedulerStatus{
		Collecting:   s.collecting,
		Backfilling:  s.backfilling,
		ShuttingDown: s.shuttingDown,
		QueueSize:    s.queue.Len(),
	}
	switch {
	case st.ShuttingDown:
		st.State = "shutting_down"
	case st.Collecting:
		st.State = "collecting"
	case st.Backfilling:
		st.State = "backfilling"
	default:
		st.State = "idle"
	}
	return st
}
