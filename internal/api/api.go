package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"wow-auction-collector/internal/models"
	"wow-auction-collector/internal/monitoring"
	"wow-auction-collector/internal/services"
	"wow-auction-collector/internal/store"
)

// Handler exposes the collector's operational surface: health, metrics,
// manual triggers and read access to the aggregated data.
type Handler struct {
	store     *store.Store
	cache     *services.AggregationCache
	queue     *services.BackfillQueue
	scheduler *services.Scheduler
	stats     *monitoring.Stats
	log       *logrus.Entry
	upgrader  websocket.Upgrader
}

func SetupRoutes(r *gin.Engine, st *store.Store, cache *services.AggregationCache, queue *services.BackfillQueue, scheduler *services.Scheduler, stats *monitoring.Stats, log *logrus.Entry) *Handler {
	h := &Handler{
		store:     st,
		cache:     cache,
		queue:     queue,
		scheduler: scheduler,
		stats:     stats,
		log:       log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r.GET("/health", h.Health)
	r.GET("/metrics", h.Metrics)
	r.GET("/status", h.Status)

	trigger := r.Group("/trigger")
	{
		trigger.POST("/ingest", h.TriggerIngest)
		trigger.POST("/backfill", h.TriggerBackfill)
	}

	r.GET("/auctions/:entity", h.GetAuctions)
	r.GET("/export/:entity", h.ExportAuctions)
	r.GET("/item/:id", h.GetItem)
	r.GET("/item-classes", h.GetItemClasses)
	r.GET("/realms", h.GetRealms)
	r.GET("/ws/stats", h.StatsStream)

	return h
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.stats.Snapshot(h.queue.Len()))
}

func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Status())
}

// TriggerIngest starts a manual ingestion: full sweep without parameters,
// single entity with ?entity=<realm id | commodities_<region>>.
func (h *Handler) TriggerIngest(c *gin.Context) {
	var entity *models.EntityRef
	if raw := c.Query("entity"); raw != "" {
		parsed, err := models.ParseEntity(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		entity = &parsed
	}
	if err := h.scheduler.TriggerIngest(entity); err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, services.ErrSweepRunning) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

func (h *Handler) TriggerBackfill(c *gin.Context) {
	if err := h.scheduler.TriggerBackfill(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "queue_size": h.queue.Len()})
}

// GetAuctions serves the aggregated per-entity view with optional filters:
// ?itemName=<substring> and ?itemId=<exact id>.
func (h *Handler) GetAuctions(c *gin.Context) {
	entity, err := models.ParseEntity(c.Param("entity"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, rebuilt, err := h.cache.Get(c.Request.Context(), entity)
	if err != nil {
		h.log.WithField("entity", entity.String()).WithError(err).Error("aggregated auctions unavailable")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load auctions for " + entity.String()})
		return
	}

	var itemID *int64
	if raw := c.Query("itemId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "itemId must be numeric"})
			return
		}
		itemID = &id
	}
	items := services.FilterItems(entry.Items, c.Query("itemName"), itemID)

	cacheStatus := "cached"
	if rebuilt {
		cacheStatus = "updated"
	}
	c.JSON(http.StatusOK, gin.H{
		"entity":       entity.String(),
		"items":        items,
		"total":        len(items),
		"cache_status": cacheStatus,
		"built_at":     entry.BuiltAt.Format(time.RFC3339),
	})
}

func (h *Handler) GetItem(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "item id must be numeric"})
		return
	}
	meta, err := h.store.GetItem(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if meta == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
		return
	}
	c.JSON(http.StatusOK, meta)
}

func (h *Handler) GetItemClasses(c *gin.Context) {
	classes, err := h.store.ListItemClasses(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"item_classes": classes, "total": len(classes)})
}

func (h *Handler) GetRealms(c *gin.Context) {
	summaries, err := h.store.ListRealmSummaries(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"realms": summaries, "total": len(summaries)})
}

// StatsStream pushes counter snapshots over a websocket every two seconds
// until the client goes away.
func (h *Handler) StatsStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("stats websocket upgrade failed")
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	// Reader goroutine notices the peer closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			snapshot := h.stats.Snapshot(h.queue.Len())
			if err := conn.WriteJSON(snapshot); err != nil {
				return
			}
		}
	}
}
