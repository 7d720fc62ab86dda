package models

import (
	"time"
)

// AuctionListing is one auction record for one item on one entity at one
// collection time. Listings are replaced wholesale per entity on every
// ingestion cycle and never mutated in place.
type AuctionListing struct {
	ID             uint      `json:"-" gorm:"primaryKey"`
	EntityID       string    `json:"entity_id" gorm:"index:idx_entity;not null"`
	AuctionID      int64     `json:"auction_id"`
	ItemID         *int64    `json:"item_id" gorm:"index:idx_item"`
	UnitPrice      int64     `json:"unit_price"` // copper; 0 for bid-only listings
	Bid            int64     `json:"bid"`
	Quantity       int       `json:"quantity"`
	TimeLeft       string    `json:"time_left"`
	CollectionTime time.Time `json:"collection_time" gorm:"index:idx_collected"`
}

// ItemMetadata holds item details fetched lazily by the backfill queue.
// Last-write-wins: a newer fetch overwrites the whole record.
type ItemMetadata struct {
	ItemID        int64     `json:"item_id" gorm:"primaryKey"`
	Name          string    `json:"name"`
	Quality       string    `json:"quality"`
	ItemClass     string    `json:"item_class"`
	ItemSubclass  string    `json:"item_subclass"`
	InventoryType string    `json:"inventory_type"`
	Level         int       `json:"level"`
	IconURL       string    `json:"icon_url"`
	// NoMetadata marks items the upstream API returned 404 for, so the
	// backfill queue stops retrying them under the drop policy.
	NoMetadata  bool      `json:"no_metadata"`
	LastUpdated time.Time `json:"last_updated"`
}

// Complete reports whether the record carries enough data for display and
// can be skipped by the backfill queue.
func (m ItemMetadata) Complete() bool {
	return m.NoMetadata || (m.Name != "" && m.IconURL != "")
}

// RealmSummary is the per-entity rollup written after every snapshot.
type RealmSummary struct {
	EntityID      string    `json:"entity_id" gorm:"primaryKey"`
	TotalAuctions int       `json:"total_auctions"`
	LastUpdated   time.Time `json:"last_updated"`
}

// ItemClass is one entry of the item taxonomy (class plus its subclasses,
// stored as a JSON array of names).
type ItemClass struct {
	ClassID    int64     `json:"class_id" gorm:"primaryKey"`
	Name       string    `json:"name"`
	Subclasses string    `json:"subclasses"`
	UpdatedAt  time.Time `json:"updated_at"`
}
