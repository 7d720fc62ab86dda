package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wow-auction-collector/internal/models"
	"wow-auction-collector/internal/monitoring"
)

// insertBatchSize bounds single INSERT statements; a busy realm snapshot
// runs to tens of thousands of listings.
const insertBatchSize = 400

// Store is the persistence layer. Every method counts one db_operation and,
// on failure, one db_error.
type Store struct {
	db    *gorm.DB
	stats *monitoring.Stats
	log   *logrus.Entry
}

func New(db *gorm.DB, stats *monitoring.Stats, log *logrus.Entry) *Store {
	return &Store{db: db, stats: stats, log: log}
}

func (s *Store) track(err error) error {
	s.stats.DBOperation()
	if err != nil {
		s.stats.DBError()
	}
	return err
}

// ReplaceListings atomically swaps the stored listing set of one entity:
// delete everything under the entity key, then insert the new snapshot, in
// one transaction. Delete runs first so a listing id reused across
// snapshots cannot collide.
func (s *Store) ReplaceListings(ctx context.Context, entity models.EntityRef, listings []models.AuctionListing) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("entity_id = ?", entity.String()).Delete(&models.AuctionListing{}).Error; err != nil {
			return fmt.Errorf("delete listings for %s: %w", entity, err)
		}
		if len(listings) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(listings, insertBatchSize).Error; err != nil {
			return fmt.Errorf("insert listings for %s: %w", entity, err)
		}
		return nil
	})
	return s.track(err)
}

// ListingsWithBuyout returns an entity's listings that carry a positive unit
// price, the input of a cache rebuild. Bid-only listings are excluded.
func (s *Store) ListingsWithBuyout(ctx context.Context, entity models.EntityRef) ([]models.AuctionListing, error) {
	var listings []models.AuctionListing
	err := s.db.WithContext(ctx).
		Where("entity_id = ? AND unit_price > 0", entity.String()).
		Find(&listings).Error
	if err != nil {
		return nil, s.track(fmt.Errorf("query listings for %s: %w", entity, err))
	}
	return listings, s.track(nil)
}

// UpsertItemMetadata writes the whole record, last-write-wins.
func (s *Store) UpsertItemMetadata(ctx context.Context, meta models.ItemMetadata) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "item_id"}},
			UpdateAll: true,
		}).
		Create(&meta).Error
	if err != nil {
		return s.track(fmt.Errorf("upsert metadata for item %d: %w", meta.ItemID, err))
	}
	s.stats.ItemProcessed()
	return s.track(nil)
}

// GetItem returns one item's metadata, or (nil, nil) when unknown.
func (s *Store) GetItem(ctx context.Context, itemID int64) (*models.ItemMetadata, error) {
	var meta models.ItemMetadata
	err := s.db.WithContext(ctx).First(&meta, "item_id = ?", itemID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, s.track(nil)
	}
	if err != nil {
		return nil, s.track(fmt.Errorf("get metadata for item %d: %w", itemID, err))
	}
	return &meta, s.track(nil)
}

// ItemMetadataByID loads metadata for a set of item ids into a map.
func (s *Store) ItemMetadataByID(ctx context.Context, ids []int64) (map[int64]models.ItemMetadata, error) {
	out := make(map[int64]models.ItemMetadata, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var metas []models.ItemMetadata
	err := s.db.WithContext(ctx).Where("item_id IN ?", ids).Find(&metas).Error
	if err != nil {
		return nil, s.track(fmt.Errorf("query metadata batch: %w", err))
	}
	for _, m := range metas {
		out[m.ItemID] = m
	}
	return out, s.track(nil)
}

// CompleteItemIDs reports which of the given ids already have complete
// metadata (or are marked as permanently having none) and need no backfill.
func (s *Store) CompleteItemIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	complete := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return complete, nil
	}
	var metas []models.ItemMetadata
	err := s.db.WithContext(ctx).
		Select("item_id", "name", "icon_url", "no_metadata").
		Where("item_id IN ?", ids).
		Find(&metas).Error
	if err != nil {
		return nil, s.track(fmt.Errorf("query metadata completeness: %w", err))
	}
	for _, m := range metas {
		if m.Complete() {
			complete[m.ItemID] = true
		}
	}
	return complete, s.track(nil)
}

// SaveRealmSummary upserts the per-entity rollup written after a snapshot.
func (s *Store) SaveRealmSummary(ctx context.Context, entity models.EntityRef, totalAuctions int, collectedAt time.Time) error {
	summary := models.RealmSummary{
		EntityID:      entity.String(),
		TotalAuctions: totalAuctions,
		LastUpdated:   collectedAt,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity_id"}},
			UpdateAll: true,
		}).
		Create(&summary).Error
	if err != nil {
		err = fmt.Errorf("save summary for %s: %w", entity, err)
	}
	return s.track(err)
}

func (s *Store) ListRealmSummaries(ctx context.Context) ([]models.RealmSummary, error) {
	var summaries []models.RealmSummary
	err := s.db.WithContext(ctx).Order("total_auctions desc").Find(&summaries).Error
	if err != nil {
		return nil, s.track(fmt.Errorf("list summaries: %w", err))
	}
	return summaries, s.track(nil)
}

// DeleteListingsOlderThan removes listings collected before the cutoff,
// across all entities. Returns the number deleted.
func (s *Store) DeleteListingsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("collection_time < ?", cutoff).
		Delete(&models.AuctionListing{})
	if res.Error != nil {
		return 0, s.track(fmt.Errorf("retention delete: %w", res.Error))
	}
	return res.RowsAffected, s.track(nil)
}

// UpsertItemClass stores one taxonomy entry.
func (s *Store) UpsertItemClass(ctx context.Context, class models.ItemClass) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "class_id"}},
			UpdateAll: true,
		}).
		Create(&class).Error
	if err != nil {
		err = fmt.Errorf("upsert item class %d: %w", class.ClassID, err)
	}
	return s.track(err)
}

func (s *Store) ListItemClasses(ctx context.Context) ([]models.ItemClass, error) {
	var classes []models.ItemClass
	err := s.db.WithContext(ctx).Order("class_id asc").Find(&classes).Error
	if err != nil {
		return nil, s.track(fmt.Errorf("list item classes: %w", err))
	}
	return classes, s.track(nil)
}
