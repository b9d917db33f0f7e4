package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/elegroag/trading-alpaca-backend/internal/logging"
	"github.com/elegroag/trading-alpaca-backend/internal/metrics"
)

// RealtimeServer serves the websocket channel. The hub implements it.
type RealtimeServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// NewRouter registers every route on a fresh engine.
func NewRouter(h *TradeHandler, rt RealtimeServer, logger *slog.Logger, logAll bool) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), logging.GinMiddleware(logger, logAll))

	api := router.Group("/api")
	{
		// Account and market data
		api.GET("/account", h.GetAccount)
		api.GET("/positions", h.GetPositions)
		api.GET("/quote/:symbol", h.GetQuote)
		api.GET("/bars/:symbol", h.GetBars)
		api.GET("/chart-data/:symbol", h.GetChartData)
		api.GET("/news/:symbol", h.GetNews)

		// Orders
		api.GET("/orders", h.GetOrders)
		api.POST("/orders", h.PlaceOrder)
		api.DELETE("/orders/:id", h.CancelOrder)

		// Swing trading
		api.POST("/swing-trade", h.PlaceSwingTrade)
		api.POST("/swing-scan", h.SwingScan)

		// Watchlist
		api.GET("/watchlist", h.GetWatchlist)
		api.PUT("/watchlist", h.ReplaceWatchlist)
		api.POST("/watchlist/:symbol", h.AddWatchlistSymbol)
		api.DELETE("/watchlist/:symbol", h.RemoveWatchlistSymbol)
	}

	if rt != nil {
		router.GET("/ws", func(c *gin.Context) {
			rt.ServeWS(c.Writer, c.Request)
		})
	}

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	return router
}
