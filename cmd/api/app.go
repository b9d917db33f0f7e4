package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/elegroag/trading-alpaca-backend/internal/config"
	"github.com/elegroag/trading-alpaca-backend/internal/db"
	"github.com/elegroag/trading-alpaca-backend/internal/gateway"
	"github.com/elegroag/trading-alpaca-backend/internal/logging"
	"github.com/elegroag/trading-alpaca-backend/internal/orders"
	"github.com/elegroag/trading-alpaca-backend/internal/scanner"
	"github.com/elegroag/trading-alpaca-backend/internal/watchlist"
)

// app holds the components shared by every command.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	gw        gateway.Gateway
	watchlist watchlist.Store
	closers   []func() error
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	a := &app{
		cfg: cfg,
		log: logger,
		gw:  gateway.NewAlpacaGateway(cfg.Alpaca, cfg.Bars, logger),
	}

	if cfg.Database.Enabled {
		conn, err := db.Open(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn.Close)

		store := watchlist.NewPostgresStore(conn, "default")
		if err := store.EnsureSchema(ctx); err != nil {
			a.close()
			return nil, err
		}
		a.watchlist = store
	} else {
		logger.Info("database disabled, watchlist kept in memory")
		a.watchlist = watchlist.NewMemoryStore()
	}
	return a, nil
}

// newTrading builds the orchestrator and a started scanner. Stop the
// scanner when done.
func (a *app) newTrading(pub orders.Publisher) (*orders.Orchestrator, *scanner.Scanner, error) {
	orch := orders.NewOrchestrator(a.gw, pub, a.cfg.Trading, a.log)
	sc, err := scanner.New(a.gw, orch, a.cfg.Scanner, a.log)
	if err != nil {
		return nil, nil, err
	}
	sc.Start()
	return orch, sc, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("error during shutdown", "error", err)
		}
	}
}
