package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"wow-auction-collector/internal/blizzard"
	"wow-auction-collector/internal/config"
	"wow-auction-collector/internal/database"
	"wow-auction-collector/internal/monitoring"
	"wow-auction-collector/internal/services"
	"wow-auction-collector/internal/store"
)

// One-shot refresh of the item-class taxonomy, for running out of band of
// the collector daemon.
func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}
	cfg := config.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	stats := monitoring.NewStats()
	st := store.New(db, stats, log.WithField("component", "store"))
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

	collector := services.NewItemClassCollector(client, st, log.WithField("component", "item-classes"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	stored, err := collector.Collect(ctx)
	if err != nil {
		log.Fatalf("Item class collection failed after %d classes: %v", stored, err)
	}
	log.Infof("Stored %d item classes (%d API calls)", stored, stats.Snapshot(0).APICalls)
}
