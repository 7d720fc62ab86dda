package models

import (
	"fmt"
	"strconv"
	"strings"
)

// EntityKind discriminates the two kinds of ingestion targets.
type EntityKind int

const (
	// EntityRealm is a connected realm identified by its numeric ID.
	EntityRealm EntityKind = iota
	// EntityCommodities is the region-wide commodity market.
	EntityCommodities
)

const commoditiesPrefix = "commodities_"

// EntityRef identifies one unit of ingestion and caching: either a connected
// realm or a region's commodity market. The zero value is not valid; use
// RealmEntity or CommoditiesEntity.
type EntityRef struct {
	Kind    EntityKind
	RealmID int64
	Region  string
}

func RealmEntity(id int64) EntityRef {
	return EntityRef{Kind: EntityRealm, RealmID: id}
}

func CommoditiesEntity(region string) EntityRef {
	return EntityRef{Kind: EntityCommodities, Region: region}
}

// String renders the storage key shared by listings, summaries and the
// aggregation cache: the bare realm ID for realms, "commodities_<region>"
// for commodity markets.
func (e EntityRef) String() string {
	if e.Kind == EntityCommodities {
		return commoditiesPrefix + e.Region
	}
	return strconv.FormatInt(e.RealmID, 10)
}

func (e EntityRef) IsCommodities() bool {
	return e.Kind == EntityCommodities
}

// ParseEntity accepts either storage-key form.
func ParseEntity(s string) (EntityRef, error) {
	if region, ok := strings.CutPrefix(s, commoditiesPrefix); ok {
		if region == "" {
			return EntityRef{}, fmt.Errorf("entity %q: missing region", s)
		}
		return CommoditiesEntity(region), nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return EntityRef{}, fmt.Errorf("entity %q: not a realm id or commodities tag", s)
	}
	return RealmEntity(id), nil
}
