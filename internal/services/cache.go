package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"wow-auction-collector/internal/models"
)

// PlaceholderQuality is reported for items whose metadata has not been
// backfilled yet.
const PlaceholderQuality = "COMMON"

type cacheStore interface {
	ListingsWithBuyout(ctx context.Context, entity models.EntityRef) ([]models.AuctionListing, error)
	ItemMetadataByID(ctx context.Context, ids []int64) (map[int64]models.ItemMetadata, error)
}

// RepresentativeAuction is the single best listing per item id: lowest unit
// price, ties broken by newest collection time, joined with item metadata.
type RepresentativeAuction struct {
	ItemID         int64     `json:"item_id"`
	ItemName       string    `json:"item_name"`
	ItemQuality    string    `json:"item_quality"`
	IconURL        string    `json:"icon_url"`
	AuctionID      int64     `json:"auction_id"`
	UnitPrice      int64     `json:"unit_price"`
	Quantity       int       `json:"quantity"`
	TimeLeft       string    `json:"time_left"`
	CollectionTime time.Time `json:"collection_time"`
}

// CacheEntry is one entity's aggregated view. Entries are replaced
// wholesale on rebuild and expire implicitly by TTL.
type CacheEntry struct {
	Items   []RepresentativeAuction `json:"items"`
	BuiltAt time.Time               `json:"built_at"`
}

// AggregationCache caches the metadata-joined "best auction per item" view
// per entity. Reads within the TTL never touch the store; a stale read
// rebuilds synchronously, and concurrent reads of the same stale entity
// share one rebuild.
type AggregationCache struct {
	store cacheStore
	ttl   time.Duration
	log   *logrus.Entry

	mu       sync.Mutex
	entries  map[string]*CacheEntry
	building map[string]chan struct{}

	now func() time.Time
}

func NewAggregationCache(store cacheStore, ttl time.Duration, log *logrus.Entry) *AggregationCache {
	return &AggregationCache{
		store:    store,
		ttl:      ttl,
		log:      log,
		entries:  make(map[string]*CacheEntry),
		building: make(map[string]chan struct{}),
		now:      time.Now,
	}
}

// Get returns the entity's aggregated view. rebuilt reports whether this
// call (or the in-flight rebuild it joined) refreshed the entry.
func (c *AggregationCache) Get(ctx context.Context, entity models.EntityRef) (entry *CacheEntry, rebuilt bool, err error) {
	key := entity.String()
	for {
		c.mu.Lock()
		if e, ok := c.entries[key]; ok && c.now().Sub(e.BuiltAt) < c.ttl {
			c.mu.Unlock()
			return e, rebuilt, nil
		}
		if ch, ok := c.building[key]; ok {
			// Another goroutine is rebuilding this entity; wait for it and
			// re-check rather than rebuilding in parallel.
			c.mu.Unlock()
			select {
			case <-ch:
				rebuilt = true
				continue
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
		}
		ch := make(chan struct{})
		c.building[key] = ch
		c.mu.Unlock()

		fresh, buildErr := c.rebuild(ctx, entity)

		c.mu.Lock()
		delete(c.building, key)
		if buildErr == nil {
			c.entries[key] = fresh
		}
		c.mu.Unlock()
		close(ch)

		if buildErr != nil {
			return nil, false, fmt.Errorf("rebuild cache for %s: %w", key, buildErr)
		}
		return fresh, true, nil
	}
}

// Invalidate drops the entity's entry so the next Get rebuilds.
func (c *AggregationCache) Invalidate(entity models.EntityRef) {
	c.mu.Lock()
	delete(c.entries, entity.String())
	c.mu.Unlock()
}

// rebuild queries the store and computes the representative set.
func (c *AggregationCache) rebuild(ctx context.Context, entity models.EntityRef) (*CacheEntry, error) {
	listings, err := c.store.ListingsWithBuyout(ctx, entity)
	if err != nil {
		return nil, err
	}

	best := make(map[int64]models.AuctionListing)
	for _, l := range listings {
		if l.ItemID == nil {
			continue
		}
		id := *l.ItemID
		cur, ok := best[id]
		if !ok || better(l, cur) {
			best[id] = l
		}
	}

	ids := make([]int64, 0, len(best))
	for id := range best {
		ids = append(ids, id)
	}
	metas, err := c.store.ItemMetadataByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]RepresentativeAuction, 0, len(best))
	for id, l := range best {
		rep := RepresentativeAuction{
			ItemID:         id,
			ItemName:       fmt.Sprintf("Item #%d", id),
			ItemQuality:    PlaceholderQuality,
			AuctionID:      l.AuctionID,
			UnitPrice:      l.UnitPrice,
			Quantity:       l.Quantity,
			TimeLeft:       l.TimeLeft,
			CollectionTime: l.CollectionTime,
		}
		if m, ok := metas[id]; ok && m.Name != "" {
			rep.ItemName = m.Name
			rep.IconURL = m.IconURL
			if m.Quality != "" {
				rep.ItemQuality = m.Quality
			}
		}
		items = append(items, rep)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].ItemName != items[j].ItemName {
			return items[i].ItemName < items[j].ItemName
		}
		return items[i].ItemID < items[j].ItemID
	})

	c.log.WithFields(logrus.Fields{
		"entity": entity.String(),
		"items":  len(items),
	}).Debug("aggregation cache rebuilt")
	return &CacheEntry{Items: items, BuiltAt: c.now()}, nil
}

// better reports whether a should replace b as the representative listing.
func better(a, b models.AuctionListing) bool {
	if a.UnitPrice != b.UnitPrice {
		return a.UnitPrice < b.UnitPrice
	}
	return a.CollectionTime.After(b.CollectionTime)
}

// FilterItems applies the optional name-substring and exact item-id filters
// to a cached result without mutating the entry.
func FilterItems(items []RepresentativeAuction, nameSubstring string, itemID *int64) []RepresentativeAuction {
	if nameSubstring == "" && itemID == nil {
		return items
	}
	needle := strings.ToLower(nameSubstring)
	out := make([]RepresentativeAuction, 0, len(items))
	for _, it := range items {
		if itemID != nil && it.ItemID != *itemID {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(it.ItemName), needle) {
			continue
		}
		out = append(out, it)
	}
	return out
}
