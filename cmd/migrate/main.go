// Command migrate applies or rolls back the sessions schema.
//
//	go run ./cmd/migrate up
//	go run ./cmd/migrate down
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/transfa/access-service/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	_ = godotenv.Load()

	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}
	if direction != "up" && direction != "down" {
		logger.Error("unknown direction; use up or down", "direction", direction)
		os.Exit(2)
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Error("DATABASE_URL must be set")
		os.Exit(1)
	}

	if err := store.RunMigrations(databaseURL, direction); err != nil {
		logger.Error("migration failed", "direction", direction, "error", err)
		os.Exit(1)
	}
	logger.Info("migrations complete", "direction", direction)
}
