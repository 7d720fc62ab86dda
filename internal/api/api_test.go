package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"wow-auction-collector/internal/blizzard"
	"wow-auction-collector/internal/database"
	"wow-auction-collector/internal/models"
	"wow-auction-collector/internal/monitoring"
	"wow-auction-collector/internal/services"
	"wow-auction-collector/internal/store"
)

type stubRealms struct{}

func (stubRealms) ConnectedRealmIDs(ctx context.Context) ([]int64, error) { return []int64{1}, nil }

type stubIngestor struct{}

func (stubIngestor) Ingest(ctx context.Context, entity models.EntityRef) (*services.IngestSummary, error) {
	return &services.IngestSummary{Entity: entity.String()}, nil
}

type stubItems struct{}

func (stubItems) Item(ctx context.Context, itemID int64) (*blizzard.ItemResponse, error) {
	return nil, blizzard.ErrNotFound
}

func (stubItems) ItemMedia(ctx context.Context, itemID int64) (*blizzard.MediaResponse, error) {
	return nil, blizzard.ErrNotFound
}

type stubTaxonomy struct{}

func (stubTaxonomy) Collect(ctx context.Context) (int, error) { return 0, nil }

func setupTestAPI(t *testing.T) (*gin.Engine, *store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	l := logrus.New()
	l.SetOutput(io.Discard)
	log := l.WithField("component", "test")

	stats := monitoring.NewStats()
	st := store.New(db, stats, log)
	queue := services.NewBackfillQueue(stubItems{}, st, services.NotFoundDrop, log)
	cache := services.NewAggregationCache(st, time.Minute, log)
	scheduler := services.NewScheduler(stubRealms{}, stubIngestor{}, queue, st, stubTaxonomy{}, services.SchedulerConfig{
		Region:            "kr",
		CollectInterval:   time.Hour,
		BackfillInterval:  time.Hour,
		ItemClassInterval: time.Hour,
		BackfillBatchSize: 5,
	}, log)

	r := gin.New()
	SetupRoutes(r, st, cache, queue, scheduler, stats, log)
	return r, st
}

func seedRealm(t *testing.T, st *store.Store) models.EntityRef {
	t.Helper()
	realm := models.RealmEntity(1)
	item7, item8 := int64(7), int64(8)
	now := time.Now().UTC()
	listings := []models.AuctionListing{
		{EntityID: realm.String(), AuctionID: 1, ItemID: &item7, UnitPrice: 50, Quantity: 1, TimeLeft: "LONG", CollectionTime: now},
		{EntityID: realm.String(), AuctionID: 2, ItemID: &item7, UnitPrice: 30, Quantity: 1, TimeLeft: "LONG", CollectionTime: now},
		{EntityID: realm.String(), AuctionID: 3, ItemID: &item8, UnitPrice: 90, Quantity: 1, TimeLeft: "SHORT", CollectionTime: now},
	}
	if err := st.ReplaceListings(context.Background(), realm, listings); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertItemMetadata(context.Background(), models.ItemMetadata{
		ItemID: 7, Name: "Arcane Dust", Quality: "COMMON", IconURL: "https://x/7.jpg",
	}); err != nil {
		t.Fatal(err)
	}
	return realm
}

func doRequest(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	r, _ := setupTestAPI(t)
	w := doRequest(r, http.MethodGet, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestGetAuctionsCacheStatus(t *testing.T) {
	r, st := setupTestAPI(t)
	seedRealm(t, st)

	w := doRequest(r, http.MethodGet, "/auctions/1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Items       []services.RepresentativeAuction `json:"items"`
		CacheStatus string                           `json:"cache_status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.CacheStatus != "updated" {
		t.Errorf("first read cache_status = %q, want updated", resp.CacheStatus)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("got %d items, want 2 (one representative per item)", len(resp.Items))
	}
	for _, it := range resp.Items {
		if it.ItemID == 7 && it.UnitPrice != 30 {
			t.Errorf("item 7 price = %d, want the lowest (30)", it.UnitPrice)
		}
		if it.ItemID == 8 && it.ItemName != "Item #8" {
			t.Errorf("item 8 name = %q, want placeholder", it.ItemName)
		}
	}

	w = doRequest(r, http.MethodGet, "/auctions/1")
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.CacheStatus != "cached" {
		t.Errorf("second read cache_status = %q, want cached", resp.CacheStatus)
	}
}

func TestGetAuctionsFilters(t *testing.T) {
	r, st := setupTestAPI(t)
	seedRealm(t, st)

	w := doRequest(r, http.MethodGet, "/auctions/1?itemId=8")
	var resp struct {
		Items []services.RepresentativeAuction `json:"items"`
		Total int                              `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Items[0].ItemID != 8 {
		t.Errorf("itemId filter returned %+v", resp.Items)
	}

	w = doRequest(r, http.MethodGet, "/auctions/1?itemName=arcane")
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Items[0].ItemID != 7 {
		t.Errorf("itemName filter returned %+v", resp.Items)
	}

	if w := doRequest(r, http.MethodGet, "/auctions/1?itemId=abc"); w.Code != http.StatusBadRequest {
		t.Errorf("non-numeric itemId status = %d, want 400", w.Code)
	}
}

func TestGetAuctionsBadEntity(t *testing.T) {
	r, _ := setupTestAPI(t)
	if w := doRequest(r, http.MethodGet, "/auctions/azshara"); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetItem(t *testing.T) {
	r, st := setupTestAPI(t)
	seedRealm(t, st)

	if w := doRequest(r, http.MethodGet, "/item/7"); w.Code != http.StatusOK {
		t.Errorf("known item status = %d, want 200", w.Code)
	}
	if w := doRequest(r, http.MethodGet, "/item/999"); w.Code != http.StatusNotFound {
		t.Errorf("unknown item status = %d, want 404", w.Code)
	}
	if w := doRequest(r, http.MethodGet, "/item/abc"); w.Code != http.StatusBadRequest {
		t.Errorf("bad item id status = %d, want 400", w.Code)
	}
}

func TestTriggerEndpoints(t *testing.T) {
	r, _ := setupTestAPI(t)

	if w := doRequest(r, http.MethodPost, "/trigger/ingest?entity=1403"); w.Code != http.StatusAccepted {
		t.Errorf("trigger ingest status = %d, want 202", w.Code)
	}
	if w := doRequest(r, http.MethodPost, "/trigger/ingest?entity=bogus"); w.Code != http.StatusBadRequest {
		t.Errorf("trigger with bad entity status = %d, want 400", w.Code)
	}
	if w := doRequest(r, http.MethodPost, "/trigger/backfill"); w.Code != http.StatusAccepted {
		t.Errorf("trigger backfill status = %d, want 202", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := setupTestAPI(t)
	w := doRequest(r, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var snap monitoring.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.StartTime == "" {
		t.Error("snapshot missing start_time")
	}
}

func TestRealmsEndpoint(t *testing.T) {
	r, st := setupTestAPI(t)
	if err := st.SaveRealmSummary(context.Background(), models.RealmEntity(1403), 250, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	w := doRequest(r, http.MethodGet, "/realms")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Realms []models.RealmSummary `json:"realms"`
		Total  int                   `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Realms[0].EntityID != "1403" {
		t.Errorf("realms = %+v", resp)
	}
}
