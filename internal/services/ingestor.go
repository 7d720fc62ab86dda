package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"wow-auction-collector/internal/blizzard"
	"wow-auction-collector/internal/models"
)

// auctionSource is the slice of the API client the ingestor needs.
type auctionSource interface {
	Auctions(ctx context.Context, realmID int64) (*blizzard.AuctionsResponse, error)
	Commodities(ctx context.Context) (*blizzard.AuctionsResponse, error)
}

type ingestStore interface {
	ReplaceListings(ctx context.Context, entity models.EntityRef, listings []models.AuctionListing) error
	SaveRealmSummary(ctx context.Context, entity models.EntityRef, totalAuctions int, collectedAt time.Time) error
	CompleteItemIDs(ctx context.Context, ids []int64) (map[int64]bool, error)
}

type snapshotInvalidator interface {
	Invalidate(entity models.EntityRef)
}

// IngestSummary reports one completed snapshot cycle.
type IngestSummary struct {
	Entity         string        `json:"entity"`
	ListingsStored int           `json:"listings_stored"`
	UniqueItemIDs  int           `json:"unique_item_ids"`
	Elapsed        time.Duration `json:"elapsed"`
}

// SnapshotIngestor fetches one entity's full listing set and replaces the
// stored snapshot, then feeds newly observed item ids to the backfill queue.
type SnapshotIngestor struct {
	client auctionSource
	store  ingestStore
	queue  *BackfillQueue
	cache  snapshotInvalidator
	log    *logrus.Entry

	now func() time.Time
}

// NewSnapshotIngestor accepts a nil cache; invalidation is then left to the
// cache's own TTL.
func NewSnapshotIngestor(client auctionSource, store ingestStore, queue *BackfillQueue, cache snapshotInvalidator, log *logrus.Entry) *SnapshotIngestor {
	return &SnapshotIngestor{
		client: client,
		store:  store,
		queue:  queue,
		cache:  cache,
		log:    log,
		now:    time.Now,
	}
}

// Ingest runs one snapshot cycle for the entity. An upstream or store error
// propagates without partially applying the replace.
func (ing *SnapshotIngestor) Ingest(ctx context.Context, entity models.EntityRef) (*IngestSummary, error) {
	started := ing.now()

	var resp *blizzard.AuctionsResponse
	var err error
	if entity.IsCommodities() {
		resp, err = ing.client.Commodities(ctx)
	} else {
		resp, err = ing.client.Auctions(ctx, entity.RealmID)
	}
	if err != nil {
		return nil, err
	}

	collectedAt := ing.now().UTC()
	listings := make([]models.AuctionListing, 0, len(resp.Auctions))
	seen := make(map[int64]struct{})
	for _, raw := range resp.Auctions {
		listing := models.AuctionListing{
			EntityID:       entity.String(),
			AuctionID:      raw.ID,
			Bid:            raw.Bid,
			UnitPrice:      raw.BuyoutOrUnitPrice(),
			Quantity:       raw.Quantity,
			TimeLeft:       raw.TimeLeft,
			CollectionTime: collectedAt,
		}
		// Listings without an item id are kept for completeness but are
		// invisible to metadata discovery.
		if raw.Item.ID != nil {
			id := *raw.Item.ID
			listing.ItemID = &id
			seen[id] = struct{}{}
		}
		listings = append(listings, listing)
	}

	if err := ing.store.ReplaceListings(ctx, entity, listings); err != nil {
		return nil, err
	}
	if ing.cache != nil {
		ing.cache.Invalidate(entity)
	}
	if err := ing.store.SaveRealmSummary(ctx, entity, len(listings), collectedAt); err != nil {
		// The snapshot itself landed; a failed rollup is logged, not fatal.
		ing.log.WithField("entity", entity.String()).WithError(err).Warn("summary write failed")
	}

	ing.enqueueMissing(ctx, seen)

	summary := &IngestSummary{
		Entity:         entity.String(),
		ListingsStored: len(listings),
		UniqueItemIDs:  len(seen),
		Elapsed:        ing.now().Sub(started),
	}
	ing.log.WithFields(logrus.Fields{
		"entity":    summary.Entity,
		"listings":  summary.ListingsStored,
		"items":     summary.UniqueItemIDs,
		"elapsed":   summary.Elapsed.Round(time.Millisecond).String(),
		"queue_len": ing.queue.Len(),
	}).Info("snapshot stored")
	return summary, nil
}

// enqueueMissing filters out ids that already have complete metadata and
// hands the rest to the backfill queue.
func (ing *SnapshotIngestor) enqueueMissing(ctx context.Context, seen map[int64]struct{}) {
	if len(seen) == 0 {
		return
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	complete, err := ing.store.CompleteItemIDs(ctx, ids)
	if err != nil {
		// Enqueue everything; Drain re-checks completeness per id anyway.
		ing.log.WithError(err).Warn("completeness check failed, enqueueing all observed ids")
		ing.queue.Enqueue(ids)
		return
	}
	missing := ids[:0]
	for _, id := range ids {
		if !complete[id] {
			missing = append(missing, id)
		}
	}
	ing.queue.Enqueue(missing)
}
