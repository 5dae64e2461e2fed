package main

import (
	"fmt"
	"log"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/gitlab-inventory/internal/aggregator"
	"github.com/kurihiro0119/gitlab-inventory/internal/api"
	"github.com/kurihiro0119/gitlab-inventory/internal/config"
	"github.com/kurihiro0119/gitlab-inventory/internal/storage"
	"github.com/kurihiro0119/gitlab-inventory/internal/storage/memory"
	"github.com/kurihiro0119/gitlab-inventory/internal/storage/postgres"
	"github.com/kurihiro0119/gitlab-inventory/internal/storage/sqlite"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.ValidateStorage(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger, _ := config.SetupLog(cfg, os.Stderr)

	// Initialize storage
	var store storage.Storage
	switch cfg.StorageType {
	case "postgres":
		store, err = postgres.NewPostgresStorage(cfg.PostgresURL)
		if err != nil {
			log.Fatalf("Failed to initialize PostgreSQL storage: %v", err)
		}
	case "memory":
		store = memory.NewMemoryStorage()
	default:
		store, err = sqlite.NewSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite storage: %v", err)
		}
	}
	defer store.Close()

	// Initialize aggregator
	agg := aggregator.NewAggregator(store)

	// Initialize handler
	handler := api.NewHandler(store, agg)

	// Setup routes
	gin.SetMode(gin.ReleaseMode)
	router := api.SetupRoutes(handler, logger)

	// Start server
	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	logger.Info("starting API server", "addr", addr, "storage", cfg.StorageType)

	if err := router.Run(addr); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		os.Exit(1)
	}
}
