package blizzard

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ConnectedRealmIndex is the response of GET /connected-realm/index. Each
// entry is an href like ".../connected-realm/1403?namespace=dynamic-kr".
type ConnectedRealmIndex struct {
	ConnectedRealms []RealmRef `json:"connected_realms"`
}

type RealmRef struct {
	Href string `json:"href"`
}

// ID extracts the numeric connected-realm ID from the href.
func (r RealmRef) ID() (int64, bool) {
	path := r.Href
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimSuffix(path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		path = path[i+1:]
	}
	id, err := strconv.ParseInt(path, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// AuctionsResponse covers both the per-realm auctions endpoint and the
// region commodities endpoint; the two differ only in which price fields
// are populated.
type AuctionsResponse struct {
	Auctions []RawAuction `json:"auctions"`
}

type RawAuction struct {
	ID        int64      `json:"id"`
	Item      RawItemRef `json:"item"`
	Bid       int64      `json:"bid"`
	Buyout    int64      `json:"buyout"`
	UnitPrice int64      `json:"unit_price"`
	Quantity  int        `json:"quantity"`
	TimeLeft  string     `json:"time_left"`
}

// RawItemRef is the nested item reference. ID is a pointer because some
// listings arrive without one; those are stored but never backfilled.
type RawItemRef struct {
	ID *int64 `json:"id"`
}

// BuyoutOrUnitPrice returns the effective per-unit price of the listing:
// commodities carry unit_price, realm auctions carry buyout. Zero means
// bid-only.
func (a RawAuction) BuyoutOrUnitPrice() int64 {
	if a.UnitPrice > 0 {
		return a.UnitPrice
	}
	return a.Buyout
}

// ItemResponse is GET /item/{id}.
type ItemResponse struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Quality       NamedType `json:"quality"`
	ItemClass     NamedRef  `json:"item_class"`
	ItemSubclass  NamedRef  `json:"item_subclass"`
	InventoryType NamedType `json:"inventory_type"`
	Level         int       `json:"level"`
}

type NamedType struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type NamedRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// MediaResponse is GET /item/{id}/media.
type MediaResponse struct {
	Assets AssetList `json:"assets"`
}

type Asset struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// AssetList tolerates the upstream quirk of "assets" being either a single
// object or an array. The ambiguity is resolved here, once, at the parse
// boundary.
type AssetList []Asset

func (l *AssetList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var single Asset
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*l = AssetList{single}
		return nil
	}
	var many []Asset
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = AssetList(many)
	return nil
}

// IconURL returns the asset whose key is "icon", or "".
func (l AssetList) IconURL() string {
	for _, a := range l {
		if a.Key == "icon" {
			return a.Value
		}
	}
	return ""
}

// ItemClassIndexResponse is GET /item-class/index.
type ItemClassIndexResponse struct {
	ItemClasses []NamedRef `json:"item_classes"`
}

// ItemClassResponse is GET /item-class/{id}.
type ItemClassResponse struct {
	ClassID        int64      `json:"class_id"`
	Name           string     `json:"name"`
	ItemSubclasses []NamedRef `json:"item_subclasses"`
}
