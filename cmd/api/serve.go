package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/elegroag/trading-alpaca-backend/internal/autotrade"
	"github.com/elegroag/trading-alpaca-backend/internal/config"
	"github.com/elegroag/trading-alpaca-backend/internal/handlers"
	"github.com/elegroag/trading-alpaca-backend/internal/hub"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API, real-time channel and quote polling",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(parent context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()
	cfg := a.cfg

	if cfg.Server.GinMode != "" {
		gin.SetMode(cfg.Server.GinMode)
	}

	h := hub.New(a.gw, cfg.Hub, a.log)
	orch, sc, err := a.newTrading(h)
	if err != nil {
		return err
	}
	defer sc.Stop()

	guard, err := newGuard(ctx, cfg.AutoTrade)
	if err != nil {
		return err
	}
	if rg, ok := guard.(*autotrade.RedisGuard); ok {
		defer rg.Close()
	}
	trader := autotrade.New(cfg.AutoTrade.Enabled, a.gw, sc, h, guard, a.log)
	h.OnQuote(trader.OnQuote)
	if cfg.AutoTrade.Enabled {
		a.log.Info("auto swing trading enabled", "guard", cfg.AutoTrade.Guard)
	}

	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		h.Run(ctx)
	}()

	api := handlers.NewTradeHandler(a.gw, orch, sc, a.watchlist, a.log)
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handlers.NewRouter(api, h, a.log, cfg.Server.LogAll),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("server starting", "addr", srv.Addr, "alpaca", cfg.Alpaca.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		stop()
		<-hubDone
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server shutdown failed", "error", err)
	}
	<-hubDone
	return nil
}

func newGuard(ctx context.Context, cfg config.AutoTrade) (autotrade.Guard, error) {
	if cfg.Guard == config.GuardRedis {
		return autotrade.DialRedisGuard(ctx, cfg.Redis)
	}
	return autotrade.NewMemoryGuard(), nil
}
