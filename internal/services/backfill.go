package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"wow-auction-collector/internal/blizzard"
	"wow-auction-collector/internal/models"
)

// NotFoundPolicy decides what a 404 from the item endpoints means for a
// queued id.
type NotFoundPolicy string

const (
	// NotFoundDrop records a "no metadata available" marker so the id is
	// never queued again. The upstream resource is genuinely absent.
	NotFoundDrop NotFoundPolicy = "drop"
	// NotFoundRetry re-enqueues the id like any other failure.
	NotFoundRetry NotFoundPolicy = "retry"
)

// ParseNotFoundPolicy maps the config string to a policy, defaulting to drop.
func ParseNotFoundPolicy(s string) NotFoundPolicy {
	if NotFoundPolicy(s) == NotFoundRetry {
		return NotFoundRetry
	}
	return NotFoundDrop
}

type itemSource interface {
	Item(ctx context.Context, itemID int64) (*blizzard.ItemResponse, error)
	ItemMedia(ctx context.Context, itemID int64) (*blizzard.MediaResponse, error)
}

type metadataStore interface {
	GetItem(ctx context.Context, itemID int64) (*models.ItemMetadata, error)
	UpsertItemMetadata(ctx context.Context, meta models.ItemMetadata) error
}

// DrainSummary reports one drain pass.
type DrainSummary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	NotFound  int `json:"not_found"`
	Remaining int `json:"remaining"`
}

// BackfillQueue is a deduplicated set of item ids awaiting a metadata fetch.
// The set is shared between the ingestor (producer), the scheduler's
// periodic drain and manual drains, so every access goes through the mutex.
type BackfillQueue struct {
	mu      sync.Mutex
	pending map[int64]struct{}

	client itemSource
	store  metadataStore
	policy NotFoundPolicy
	log    *logrus.Entry

	now func() time.Time
}

func NewBackfillQueue(client itemSource, store metadataStore, policy NotFoundPolicy, log *logrus.Entry) *BackfillQueue {
	return &BackfillQueue{
		pending: make(map[int64]struct{}),
		client:  client,
		store:   store,
		policy:  policy,
		log:     log,
		now:     time.Now,
	}
}

// Enqueue adds ids not already pending. Re-adding a pending id is a silent
// no-op.
func (q *BackfillQueue) Enqueue(ids []int64) {
	if len(ids) == 0 {
		return
	}
	q.mu.Lock()
	for _, id := range ids {
		q.pending[id] = struct{}{}
	}
	q.mu.Unlock()
}

func (q *BackfillQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// pop removes and returns up to max ids. Order is unspecified.
func (q *BackfillQueue) pop(max int) []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := make([]int64, 0, max)
	for id := range q.pending {
		if len(batch) == max {
			break
		}
		delete(q.pending, id)
		batch = append(batch, id)
	}
	return batch
}

// Drain processes up to maxBatch pending ids. Per-id failures are isolated:
// they are counted, logged and (policy permitting) re-enqueued; Drain itself
// only errors on a cancelled context.
func (q *BackfillQueue) Drain(ctx context.Context, maxBatch int) (*DrainSummary, error) {
	batch := q.pop(maxBatch)
	summary := &DrainSummary{}

	for _, id := range batch {
		if err := ctx.Err(); err != nil {
			// Put the unprocessed remainder back before giving up.
			q.Enqueue(batch[summary.Processed:])
			summary.Remaining = q.Len()
			return summary, err
		}
		summary.Processed++

		switch err := q.backfillOne(ctx, id); {
		case err == nil:
			summary.Succeeded++
		case errors.Is(err, errAlreadyComplete):
			summary.Skipped++
		case errors.Is(err, blizzard.ErrNotFound):
			summary.NotFound++
			q.handleNotFound(ctx, id)
		default:
			summary.Failed++
			q.log.WithField("item_id", id).WithError(err).Warn("metadata backfill failed, re-enqueueing")
			q.Enqueue([]int64{id})
		}
	}

	summary.Remaining = q.Len()
	return summary, nil
}

var errAlreadyComplete = errors.New("metadata already complete")

// backfillOne fetches item details and media for one id and upserts the
// composed record.
func (q *BackfillQueue) backfillOne(ctx context.Context, id int64) error {
	existing, err := q.store.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if existing != nil && existing.Complete() {
		return errAlreadyComplete
	}

	item, err := q.client.Item(ctx, id)
	if err != nil {
		return err
	}
	if item.Name == "" {
		return fmt.Errorf("item %d: upstream response missing name", id)
	}

	meta := models.ItemMetadata{
		ItemID:        id,
		Name:          item.Name,
		Quality:       item.Quality.Type,
		ItemClass:     item.ItemClass.Name,
		ItemSubclass:  item.ItemSubclass.Name,
		InventoryType: item.InventoryType.Type,
		Level:         item.Level,
		LastUpdated:   q.now().UTC(),
	}

	// A missing media document is not fatal: store the record without an
	// icon rather than losing the name.
	media, err := q.client.ItemMedia(ctx, id)
	switch {
	case err == nil:
		meta.IconURL = media.Assets.IconURL()
	case errors.Is(err, blizzard.ErrNotFound):
		q.log.WithField("item_id", id).Debug("no media document for item")
	default:
		return err
	}

	return q.store.UpsertItemMetadata(ctx, meta)
}

// handleNotFound applies the configured 404 policy.
func (q *BackfillQueue) handleNotFound(ctx context.Context, id int64) {
	if q.policy == NotFoundRetry {
		q.log.WithField("item_id", id).Debug("item not found upstream, keeping queued")
		q.Enqueue([]int64{id})
		return
	}
	q.log.WithField("item_id", id).Info("item not found upstream, marking as having no metadata")
	marker := models.ItemMetadata{
		ItemID:      id,
		NoMetadata:  true,
		LastUpdated: q.now().UTC(),
	}
	if err := q.store.UpsertItemMetadata(ctx, marker); err != nil {
		// Marker write failed; re-enqueue so the decision is retried.
		q.log.WithField("item_id", id).WithError(err).Warn("no-metadata marker write failed")
		q.Enqueue([]int64{id})
	}
}
