package main

import (
	"log"
	"os"

	"github.com/jobtrail/core/internal/api"
	"github.com/jobtrail/core/internal/cli"
	"github.com/jobtrail/core/internal/config"
	"github.com/jobtrail/core/internal/database"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	// Initialize database
	db, err := database.Initialize(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Check if running CLI command
	if len(os.Args) > 1 {
		cli.Execute(db, cfg)
		return
	}

	// Start API server
	router, scheduler, err := api.SetupRouter(db, cfg)
	if err != nil {
		log.Fatalf("Failed to setup router: %v", err)
	}

	scheduler.Start()
	defer scheduler.Stop()

	log.Printf("Starting JobTrail server on port %s", cfg.APIPort)
	log.Printf("Data directory: %s", cfg.DataDir)
	log.Printf("Database path: %s", cfg.DatabasePath)
	if cfg.SyncIntervalMinutes > 0 {
		log.Printf("Background sync every %d minute(s)", cfg.SyncIntervalMinutes)
	}
	log.Printf("API key stored in %s/api_key.txt (jobtrail key show)", cfg.DataDir)
	if err := router.Run(":" + cfg.APIPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
