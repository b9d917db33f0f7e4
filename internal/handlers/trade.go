// Package handlers exposes the trading REST surface and the real-time
// endpoint over gin.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/elegroag/trading-alpaca-backend/internal/gateway"
	"github.com/elegroag/trading-alpaca-backend/internal/models"
	"github.com/elegroag/trading-alpaca-backend/internal/watchlist"
)

const (
	defaultBarsTimeframe = "1D"
	defaultBarsLimit     = 100
	defaultNewsLimit     = 10
	maxNewsLimit         = 50
)

// OrderService places and cancels orders. The orchestrator implements it.
type OrderService interface {
	PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	PlaceSwingTrade(ctx context.Context, req models.SwingTradeRequest) (*models.Order, error)
}

// ScanService runs swing scans. The scanner implements it.
type ScanService interface {
	Scan(ctx context.Context, tickers []string, execute bool) ([]models.ScanResult, error)
}

// TradeHandler serves the /api routes.
type TradeHandler struct {
	gw        gateway.Gateway
	orders    OrderService
	scanner   ScanService
	watchlist watchlist.Store
	log       *slog.Logger
}

// NewTradeHandler wires the handler. A nil watchlist store makes scans
// without tickers fall back to the scanner defaults.
func NewTradeHandler(gw gateway.Gateway, orders OrderService, scanner ScanService, store watchlist.Store, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		gw:        gw,
		orders:    orders,
		scanner:   scanner,
		watchlist: store,
		log:       logger.With("component", "http"),
	}
}

// GetAccount handles GET /api/account
func (h *TradeHandler) GetAccount(c *gin.Context) {
	account, err := h.gw.GetAccount(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// GetPositions handles GET /api/positions
func (h *TradeHandler) GetPositions(c *gin.Context) {
	positions, err := h.gw.GetPositions(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if positions == nil {
		positions = []models.Position{}
	}
	c.JSON(http.StatusOK, positions)
}

// GetOrders handles GET /api/orders and lists open orders
func (h *TradeHandler) GetOrders(c *gin.Context) {
	orders, err := h.gw.GetOpenOrders(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	c.JSON(http.StatusOK, orders)
}

// PlaceOrder handles POST /api/orders
func (h *TradeHandler) PlaceOrder(c *gin.Context) {
	var req models.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.log, bindError(err))
		return
	}

	order, err := h.orders.PlaceOrder(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// CancelOrder handles DELETE /api/orders/:id
func (h *TradeHandler) CancelOrder(c *gin.Context) {
	if err := h.orders.CancelOrder(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PlaceSwingTrade handles POST /api/swing-trade
func (h *TradeHandler) PlaceSwingTrade(c *gin.Context) {
	var req models.SwingTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.log, bindError(err))
		return
	}

	order, err := h.orders.PlaceSwingTrade(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// GetQuote handles GET /api/quote/:symbol
func (h *TradeHandler) GetQuote(c *gin.Context) {
	symbol := models.NormalizeSymbol(c.Param("symbol"))
	if symbol == "" {
		writeError(c, h.log, models.NewValidationError("symbol", "symbol is required"))
		return
	}

	quote, err := h.gw.GetQuote(c.Request.Context(), symbol)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

// GetBars handles GET /api/bars/:symbol?timeframe=1D&limit=100.
func (h *TradeHandler) GetBars(c *gin.Context) {
	symbol, tf, limit, ok := h.barsQuery(c)
	if !ok {
		return
	}

	bars, err := h.gw.GetBars(c.Request.Context(), symbol, tf, limit)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if bars == nil {
		bars = []models.Bar{}
	}
	c.JSON(http.StatusOK, bars)
}

// GetChartData handles GET /api/chart-data/:symbol, returning the bars and
// the latest quote in one response.
func (h *TradeHandler) GetChartData(c *gin.Context) {
	symbol, tf, limit, ok := h.barsQuery(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	bars, err := h.gw.GetBars(ctx, symbol, tf, limit)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if bars == nil {
		bars = []models.Bar{}
	}
	quote, err := h.gw.GetQuote(ctx, symbol)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, models.ChartData{Bars: bars, Quote: quote})
}

// GetNews handles GET /api/news/:symbol?limit=10.
func (h *TradeHandler) GetNews(c *gin.Context) {
	symbol := models.NormalizeSymbol(c.Param("symbol"))
	if symbol == "" {
		writeError(c, h.log, models.NewValidationError("symbol", "symbol is required"))
		return
	}

	limit := defaultNewsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxNewsLimit {
			writeError(c, h.log, models.NewValidationError("limit", "limit must be between 1 and %d", maxNewsLimit))
			return
		}
		limit = n
	}

	news, err := h.gw.GetNews(c.Request.Context(), symbol, limit)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if news == nil {
		news = []models.NewsArticle{}
	}
	c.JSON(http.StatusOK, news)
}

// barsQuery reads the symbol, timeframe and limit shared by the bar
// endpoints. It writes the error response itself and reports false.
func (h *TradeHandler) barsQuery(c *gin.Context) (string, gateway.Timeframe, int, bool) {
	symbol := models.NormalizeSymbol(c.Param("symbol"))
	if symbol == "" {
		writeError(c, h.log, models.NewValidationError("symbol", "symbol is required"))
		return "", gateway.Timeframe{}, 0, false
	}

	tf, err := gateway.ParseTimeframe(c.DefaultQuery("timeframe", defaultBarsTimeframe))
	if err != nil {
		writeError(c, h.log, err)
		return "", gateway.Timeframe{}, 0, false
	}

	limit := defaultBarsLimit
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(c, h.log, models.NewValidationError("limit", "limit must be a positive integer"))
			return "", gateway.Timeframe{}, 0, false
		}
	}
	return symbol, tf, limit, true
}

// SwingScan handles POST /api/swing-scan. An empty body scans the watchlist.
func (h *TradeHandler) SwingScan(c *gin.Context) {
	var req models.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, h.log, bindError(err))
		return
	}

	tickers := models.NormalizeSymbols(req.Tickers)
	if len(tickers) == 0 {
		tickers = h.watchlistTickers(c.Request.Context())
	}

	results, err := h.scanner.Scan(c.Request.Context(), tickers, req.Execute)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

// watchlistTickers returns nil when the watchlist is unavailable or empty,
// which makes the scanner use its configured defaults.
func (h *TradeHandler) watchlistTickers(ctx context.Context) []string {
	if h.watchlist == nil {
		return nil
	}
	symbols, err := h.watchlist.Symbols(ctx)
	if err != nil {
		h.log.Warn("watchlist unavailable, scanning defaults", "error", err)
		return nil
	}
	return symbols
}
