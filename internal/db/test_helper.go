package db

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/elegroag/trading-alpaca-backend/internal/config"
	"github.com/elegroag/trading-alpaca-backend/internal/logging"
)

// SetupTestDB connects to the database named by the DB_* environment
// variables. The test is skipped unless DB_ENABLED=true.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if os.Getenv("DB_ENABLED") != "true" {
		t.Skip("DB_ENABLED not set; skipping Postgres test")
	}

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Failed to load database config: %v", err)
	}

	conn, err := Open(context.Background(), cfg.Database, logging.Discard())
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}
