package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/elegroag/trading-alpaca-backend/internal/models"
)

type watchlistBody struct {
	Symbols []string `json:"symbols"`
}

func (h *TradeHandler) watchlistAvailable(c *gin.Context) bool {
	if h.watchlist == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "watchlist storage is disabled", "code": CodeInternal})
		return false
	}
	return true
}

// GetWatchlist handles GET /api/watchlist
func (h *TradeHandler) GetWatchlist(c *gin.Context) {
	if !h.watchlistAvailable(c) {
		return
	}
	symbols, err := h.watchlist.Symbols(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, watchlistBody{Symbols: symbols})
}

// ReplaceWatchlist handles PUT /api/watchlist
func (h *TradeHandler) ReplaceWatchlist(c *gin.Context) {
	if !h.watchlistAvailable(c) {
		return
	}
	var body watchlistBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, h.log, bindError(err))
		return
	}

	symbols, err := h.watchlist.Set(c.Request.Context(), body.Symbols)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, watchlistBody{Symbols: symbols})
}

// AddWatchlistSymbol handles POST /api/watchlist/:symbol
func (h *TradeHandler) AddWatchlistSymbol(c *gin.Context) {
	if !h.watchlistAvailable(c) {
		return
	}
	symbols, err := h.watchlist.Add(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, watchlistBody{Symbols: symbols})
}

// RemoveWatchlistSymbol handles DELETE /api/watchlist/:symbol
func (h *TradeHandler) RemoveWatchlistSymbol(c *gin.Context) {
	if !h.watchlistAvailable(c) {
		return
	}
	symbols, err := h.watchlist.Remove(c.Request.Context(), models.NormalizeSymbol(c.Param("symbol")))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, watchlistBody{Symbols: symbols})
}
