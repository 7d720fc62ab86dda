package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"wow-auction-collector/internal/api"
	"wow-auction-collector/internal/blizzard"
	"wow-auction-collector/internal/config"
	"wow-auction-collector/internal/database"
	"wow-auction-collector/internal/monitoring"
	"wow-auction-collector/internal/services"
	"wow-auction-collector/internal/store"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	cfg := config.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	if cfg.BlizzardClientID == "" || cfg.BlizzardClientSecret == "" {
		log.Fatal("BLIZZARD_CLIENT_ID and BLIZZARD_CLIENT_SECRET must be set")
	}

	// Database
	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Info("Database initialized")

	stats := monitoring.NewStats()
	st := store.New(db, stats, log.WithField("component", "store"))

	// Upstream client
	client := blizzard.NewClient(blizzard.Config{
		Region:       cfg.BlizzardRegion,
		Namespace:    cfg.BlizzardNamespace,
		Locale:       cfg.BlizzardLocale,
		ClientID:     cfg.BlizzardClientID,
		ClientSecret: cfg.BlizzardClientSecret,
		CallInterval: cfg.APICallInterval,
		Timeout:      cfg.APITimeout,
		MaxAttempts:  cfg.APIMaxAttempts,
	}, stats, log.WithField("component", "blizzard"))

	// Core services
	queue := services.NewBackfillQueue(client, st,
		services.ParseNotFoundPolicy(cfg.BackfillNotFoundPolicy),
		log.WithField("component", "backfill"))
	cache := services.NewAggregationCache(st, cfg.CacheTTL,
		log.WithField("component", "cache"))
	ingestor := services.NewSnapshotIngestor(client, st, queue, cache,
		log.WithField("component", "ingestor"))
	classes := services.NewItemClassCollector(client, st,
		log.WithField("component", "item-classes"))

	scheduler := services.NewScheduler(client, ingestor, queue, st, classes,
		services.SchedulerConfig{
			Region:            cfg.BlizzardRegion,
			CollectInterval:   cfg.CollectInterval,
			BackfillInterval:  cfg.BackfillInterval,
			BackfillBatchSize: cfg.BackfillBatchSize,
			ItemClassInterval: cfg.ItemClassInterval,
			MaxRealms:         cfg.MaxRealms,
			RetentionDays:     cfg.RetentionDays,
		}, log.WithField("component", "scheduler"))

	// HTTP API
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})
	api.SetupRoutes(r, st, cache, queue, scheduler, stats, log.WithField("component", "api"))

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Run(ctx)
	}()

	go func() {
		log.Infof("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP server shutdown: %v", err)
	}
	<-schedulerDone
	log.Info("Shutdown complete")
}
