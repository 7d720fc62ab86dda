package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wow-auction-collector/internal/models"
)

type fakeRealmSource struct {
	ids []int64
	err error
}

func (f *fakeRealmSource) ConnectedRealmIDs(ctx context.Context) ([]int64, error) {
	return f.ids, f.err
}

type fakeIngestor struct {
	mu       sync.Mutex
	ingested []string
	failFor  map[string]error
}

func (f *fakeIngestor) Ingest(ctx context.Context, entity models.EntityRef) (*IngestSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested = append(f.ingested, entity.String())
	if err, ok := f.failFor[entity.String()]; ok {
		return nil, err
	}
	return &IngestSummary{Entity: entity.String()}, nil
}

func (f *fakeIngestor) entities() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ingested...)
}

type fakeDrainer struct {
	mu     sync.Mutex
	drains int
	length int
}

func (f *fakeDrainer) Drain(ctx context.Context, maxBatch int) (*DrainSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drains++
	return &DrainSummary{}, nil
}

func (f *fakeDrainer) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.length
}

type fakeRetention struct {
	mu      sync.Mutex
	calls   int
	deleted int64
}

func (f *fakeRetention) DeleteListingsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.deleted, nil
}

type fakeTaxonomy struct{}

func (fakeTaxonomy) Collect(ctx context.Context) (int, error) { return 0, nil }

func newTestScheduler(realms *fakeRealmSource, ing *fakeIngestor, drainer *fakeDrainer, retention *fakeRetention, cfg SchedulerConfig) *Scheduler {
	if cfg.Region == "" {
		cfg.Region = "kr"
	}
	if cfg.CollectInterval == 0 {
		cfg.CollectInterval = time.Hour
	}
	if cfg.BackfillInterval == 0 {
		cfg.BackfillInterval = time.Hour
	}
	if cfg.ItemClassInterval == 0 {
		cfg.ItemClassInterval = time.Hour
	}
	if cfg.BackfillBatchSize == 0 {
		cfg.BackfillBatchSize = 5
	}
	return NewScheduler(realms, ing, drainer, retention, fakeTaxonomy{}, cfg, testLog())
}

func TestSweepContinuesPastFailingEntity(t *testing.T) {
	ing := &fakeIngestor{failFor: map[string]error{"2": errors.New("realm 2 down")}}
	s := newTestScheduler(&fakeRealmSource{ids: []int64{1, 2, 3}}, ing, &fakeDrainer{}, &fakeRetention{}, SchedulerConfig{})

	s.runSweep(context.Background())

	got := ing.entities()
	want := []string{"1", "2", "3", "commodities_kr"}
	if len(got) != len(want) {
		t.Fatalf("ingested %v, want all of %v attempted", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ingested[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSweepHonorsMaxRealms(t *testing.T) {
	ing := &fakeIngestor{}
	s := newTestScheduler(&fakeRealmSource{ids: []int64{1, 2, 3, 4, 5}}, ing, &fakeDrainer{}, &fakeRetention{}, SchedulerConfig{MaxRealms: 2})

	s.runSweep(context.Background())

	// Two realms plus the commodities entity.
	if got := ing.entities(); len(got) != 3 {
		t.Errorf("ingested %v, want 2 realms + commodities", got)
	}
}

func TestSweepRunsRetentionWhenConfigured(t *testing.T) {
	retention := &fakeRetention{deleted: 12}
	s := newTestScheduler(&fakeRealmSource{ids: []int64{1}}, &fakeIngestor{}, &fakeDrainer{}, retention, SchedulerConfig{RetentionDays: 7})

	s.runSweep(context.Background())

	retention.mu.Lock()
	defer retention.mu.Unlock()
	if retention.calls != 1 {
		t.Errorf("retention ran %d times, want 1", retention.calls)
	}
}

func TestSweepSkippedWithoutRetentionWindow(t *testing.T) {
	retention := &fakeRetention{}
	s := newTestScheduler(&fakeRealmSource{ids: []int64{1}}, &fakeIngestor{}, &fakeDrainer{}, retention, SchedulerConfig{})

	s.runSweep(context.Background())

	retention.mu.Lock()
	defer retention.mu.Unlock()
	if retention.calls != 0 {
		t.Errorf("retention ran %d times with RetentionDays=0, want 0", retention.calls)
	}
}

func TestTriggersRefusedDuringShutdown(t *testing.T) {
	s := newTestScheduler(&fakeRealmSource{}, &fakeIngestor{}, &fakeDrainer{}, &fakeRetention{}, SchedulerConfig{})
	s.mu.Lock()
	s.shuttingDown = true
	s.mu.Unlock()

	if err := s.TriggerIngest(nil); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("TriggerIngest = %v, want ErrShuttingDown", err)
	}
	if err := s.TriggerBackfill(); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("TriggerBackfill = %v, want ErrShuttingDown", err)
	}
}

func TestFullSweepTriggerRefusedWhileSweeping(t *testing.T) {
	ing := &fakeIngestor{}
	s := newTestScheduler(&fakeRealmSource{ids: []int64{1}}, ing, &fakeDrainer{}, &fakeRetention{}, SchedulerConfig{})
	s.mu.Lock()
	s.collecting = true
	s.mu.Unlock()

	if err := s.TriggerIngest(nil); !errors.Is(err, ErrSweepRunning) {
		t.Errorf("TriggerIngest(nil) = %v, want ErrSweepRunning", err)
	}
	// A single-entity trigger is still allowed alongside a running sweep.
	entity := models.RealmEntity(9)
	if err := s.TriggerIngest(&entity); err != nil {
		t.Errorf("TriggerIngest(entity) = %v, want nil", err)
	}
	s.wg.Wait()
	found := false
	for _, e := range ing.entities() {
		if e == "9" {
			found = true
		}
	}
	if !found {
		t.Errorf("entities ingested = %v, want realm 9 included", ing.entities())
	}
}

func TestStatusStates(t *testing.T) {
	s := newTestScheduler(&fakeRealmSource{}, &fakeIngestor{}, &fakeDrainer{length: 4}, &fakeRetention{}, SchedulerConfig{})

	if st := s.Status(); st.State != "idle" || st.QueueSize != 4 {
		t.Errorf("status = %+v, want idle with queue size 4", st)
	}

	s.mu.Lock()
	s.collecting = true
	s.mu.Unlock()
	if st := s.Status(); st.State != "collecting" {
		t.Errorf("state = %q, want collecting", st.State)
	}

	s.mu.Lock()
	s.shuttingDown = true
	s.mu.Unlock()
	if st := s.Status(); st.State != "shutting_down" {
		t.Errorf("state = %q, want shutting_down", st.State)
	}
}

func TestRunStopsStartingNewCyclesOnCancel(t *testing.T) {
	ing := &fakeIngestor{}
	drainer := &fakeDrainer{length: 1}
	s := newTestScheduler(&fakeRealmSource{ids: []int64{1}}, ing, drainer, &fakeRetention{}, SchedulerConfig{
		CollectInterval:  10 * time.Millisecond,
		BackfillInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if !s.Status().ShuttingDown {
		t.Error("scheduler not marked shutting down after Run returned")
	}
	if len(ing.entities()) == 0 {
		t.Error("no ingestion cycles ran before shutdown")
	}
	// No new cycles start once shut down.
	before := len(ing.entities())
	if err := s.TriggerIngest(nil); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("TriggerIngest after Run = %v, want ErrShuttingDown", err)
	}
	if got := len(ing.entities()); got != before {
		t.Errorf("ingestions grew from %d to %d after shutdown", before, got)
	}
}
