package gateway

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/elegroag/trading-alpaca-backend/internal/config"
	"github.com/elegroag/trading-alpaca-backend/internal/metrics"
	"github.com/elegroag/trading-alpaca-backend/internal/models"
)

var _ Gateway = (*AlpacaGateway)(nil)

// AlpacaGateway implements Gateway on top of the Alpaca trading and market
// data APIs. Every call waits on a shared token bucket first.
type AlpacaGateway struct {
	trading *alpaca.Client
	data    *marketdata.Client
	limiter *rate.Limiter
	limits  BarLimits
	feed    marketdata.Feed
	log     *slog.Logger
	now     func() time.Time
}

// NewAlpacaGateway creates an AlpacaGateway from the alpaca and bars config.
func NewAlpacaGateway(cfg config.Alpaca, bars config.Bars, logger *slog.Logger) *AlpacaGateway {
	dataOpts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		dataOpts.BaseURL = cfg.DataURL
	}

	limit := rate.Inf
	if cfg.RateLimitPerSec > 0 {
		limit = rate.Limit(cfg.RateLimitPerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &AlpacaGateway{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
		data:    marketdata.NewClient(dataOpts),
		limiter: rate.NewLimiter(limit, burst),
		limits:  BarLimits{MaxMinute: bars.MaxMinute, MaxHour: bars.MaxHour, MaxDay: bars.MaxDay},
		feed:    marketdata.Feed(cfg.Feed),
		log:     logger.With("component", "alpaca"),
		now:     time.Now,
	}
}

// call rate-limits fn, records its latency and translates its error.
func (g *AlpacaGateway) call(ctx context.Context, op, id string, fn func() error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	start := time.Now()
	err := fn()
	metrics.ObserveGateway(op, start, err)
	if err != nil {
		g.log.Debug("alpaca call failed", "op", op, "id", id, "error", err)
		return translateError(op, id, err)
	}
	return nil
}

// translateError maps Alpaca failures onto the error taxonomy.
func translateError(op, id string, err error) error {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusNotFound {
			return &models.NotFoundError{Resource: resourceFor(op), ID: id}
		}
		reason := apiErr.Message
		if reason == "" {
			reason = apiErr.Error()
		}
		return &models.BrokerError{Op: op, Status: apiErr.StatusCode, Reason: reason, Err: err}
	}
	return &models.BrokerError{Op: op, Reason: err.Error(), Err: err}
}

func resourceFor(op string) string {
	switch op {
	case "get_order", "cancel_order":
		return "order"
	case "get_quote", "get_bars", "get_news":
		return "symbol"
	default:
		return "resource"
	}
}

func (g *AlpacaGateway) GetAccount(ctx context.Context) (*models.Account, error) {
	var acct *alpaca.Account
	err := g.call(ctx, "get_account", "", func() (err error) {
		acct, err = g.trading.GetAccount()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &models.Account{
		AccountID:      acct.ID,
		AccountNumber:  acct.AccountNumber,
		Status:         string(acct.Status),
		Currency:       acct.Currency,
		Cash:           acct.Cash.InexactFloat64(),
		BuyingPower:    acct.BuyingPower.InexactFloat64(),
		PortfolioValue: acct.PortfolioValue.InexactFloat64(),
		Equity:         acct.Equity.InexactFloat64(),
	}, nil
}

func (g *AlpacaGateway) GetPositions(ctx context.Context) ([]models.Position, error) {
	var positions []alpaca.Position
	err := g.call(ctx, "get_positions", "", func() (err error) {
		positions, err = g.trading.GetPositions()
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.Position, 0, len(positions))
	for _, p := range positions {
		out = append(out, models.Position{
			Symbol:         p.Symbol,
			Qty:            p.Qty.InexactFloat64(),
			Side:           p.Side,
			AvgEntryPrice:  p.AvgEntryPrice.InexactFloat64(),
			CurrentPrice:   decimalValue(p.CurrentPrice),
			MarketValue:    decimalValue(p.MarketValue),
			UnrealizedPL:   decimalValue(p.UnrealizedPL),
			UnrealizedPLPC: decimalValue(p.UnrealizedPLPC),
		})
	}
	return out, nil
}

func (g *AlpacaGateway) GetOpenOrders(ctx context.Context) ([]models.Order, error) {
	var orders []alpaca.Order
	err := g.call(ctx, "get_orders", "", func() (err error) {
		orders, err = g.trading.GetOrders(alpaca.GetOrdersRequest{
			Status: "open",
			Limit:  500,
			Nested: true,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.Order, 0, len(orders))
	for i := range orders {
		out = append(out, orderFromAlpaca(&orders[i]))
	}
	return out, nil
}

func (g *AlpacaGateway) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var order *alpaca.Order
	err := g.call(ctx, "get_order", orderID, func() (err error) {
		order, err = g.trading.GetOrder(orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	o := orderFromAlpaca(order)
	return &o, nil
}

func (g *AlpacaGateway) SubmitOrder(ctx context.Context, spec models.OrderSpec) (*models.Order, error) {
	req := alpaca.PlaceOrderRequest{
		Symbol:        spec.Symbol,
		Qty:           quantity(spec.Qty),
		Side:          alpaca.Side(spec.Side),
		Type:          alpaca.OrderType(spec.Type),
		TimeInForce:   alpaca.TimeInForce(spec.TimeInForce),
		ClientOrderID: spec.ClientOrderID,
	}
	if spec.LimitPrice != nil {
		req.LimitPrice = price(*spec.LimitPrice)
	}
	if spec.StopPrice != nil {
		req.StopPrice = price(*spec.StopPrice)
	}

	var placed *alpaca.Order
	err := g.call(ctx, "submit_order", spec.Symbol, func() (err error) {
		placed, err = g.trading.PlaceOrder(req)
		return err
	})
	if err != nil {
		return nil, err
	}

	o := orderFromAlpaca(placed)
	o.ParentOrderID = spec.ParentOrderID
	return &o, nil
}

// SubmitBracketOrder places an Alpaca bracket order. Alpaca only accepts
// brackets for whole-share quantities, so fractional requests report
// ErrBracketUnsupported and are emulated by the caller.
func (g *AlpacaGateway) SubmitBracketOrder(ctx context.Context, entry models.OrderSpec, takeProfit, stopLoss float64) (*models.Order, error) {
	if entry.Qty != math.Trunc(entry.Qty) {
		return nil, ErrBracketUnsupported
	}

	req := alpaca.PlaceOrderRequest{
		Symbol:        entry.Symbol,
		Qty:           quantity(entry.Qty),
		Side:          alpaca.Side(entry.Side),
		Type:          alpaca.OrderType(entry.Type),
		TimeInForce:   alpaca.TimeInForce(entry.TimeInForce),
		ClientOrderID: entry.ClientOrderID,
		OrderClass:    alpaca.Bracket,
		TakeProfit:    &alpaca.TakeProfit{LimitPrice: price(takeProfit)},
		StopLoss:      &alpaca.StopLoss{StopPrice: price(stopLoss)},
	}
	if entry.LimitPrice != nil {
		req.LimitPrice = price(*entry.LimitPrice)
	}

	var placed *alpaca.Order
	err := g.call(ctx, "submit_bracket", entry.Symbol, func() (err error) {
		placed, err = g.trading.PlaceOrder(req)
		return err
	})
	if err != nil {
		return nil, err
	}
	o := orderFromAlpaca(placed)
	return &o, nil
}

func (g *AlpacaGateway) CancelOrder(ctx context.Context, orderID string) error {
	return g.call(ctx, "cancel_order", orderID, func() error {
		return g.trading.CancelOrder(orderID)
	})
}

func (g *AlpacaGateway) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	var trade *marketdata.Trade
	err := g.call(ctx, "get_quote", symbol, func() (err error) {
		trade, err = g.data.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{Feed: g.feed})
		return err
	})
	if err != nil {
		return nil, err
	}
	if trade == nil {
		return nil, &models.NotFoundError{Resource: "quote", ID: symbol}
	}
	return &models.Quote{
		Symbol:    symbol,
		Price:     trade.Price,
		Size:      float64(trade.Size),
		Timestamp: trade.Timestamp,
	}, nil
}

// GetBars requests a window twice as long as limit bars, then keeps the
// most recent limit bars in ascending order.
func (g *AlpacaGateway) GetBars(ctx context.Context, symbol string, tf Timeframe, limit int) ([]models.Bar, error) {
	limit = g.limits.Clamp(tf, limit)
	start := g.now().Add(-tf.Window(limit))

	var bars []marketdata.Bar
	err := g.call(ctx, "get_bars", symbol, func() (err error) {
		bars, err = g.data.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: alpacaTimeframe(tf),
			Start:     start,
			Feed:      g.feed,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.Bar, 0, len(bars))
	for _, b := range bars {
		out = append(out, models.Bar{
			Symbol:     symbol,
			Timeframe:  tf.String(),
			Timestamp:  b.Timestamp,
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     float64(b.Volume),
			TradeCount: int64(b.TradeCount),
			VWAP:       b.VWAP,
		})
	}
	return LastBars(out, limit), nil
}

// LastBars sorts bars ascending by timestamp and keeps the last limit.
func LastBars(bars []models.Bar, limit int) []models.Bar {
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars
}

func alpacaTimeframe(tf Timeframe) marketdata.TimeFrame {
	switch tf.Unit {
	case Minute:
		return marketdata.NewTimeFrame(tf.Amount, marketdata.Min)
	case Hour:
		return marketdata.NewTimeFrame(tf.Amount, marketdata.Hour)
	case Day:
		return marketdata.NewTimeFrame(tf.Amount, marketdata.Day)
	case Week:
		return marketdata.NewTimeFrame(tf.Amount, marketdata.Week)
	default:
		return marketdata.NewTimeFrame(tf.Amount, marketdata.Month)
	}
}

func orderFromAlpaca(o *alpaca.Order) models.Order {
	out := models.Order{
		OrderID:        o.ID,
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Qty:            decimalValue(o.Qty),
		FilledQty:      o.FilledQty.InexactFloat64(),
		FilledAvgPrice: decimalPtr(o.FilledAvgPrice),
		Side:           models.Side(o.Side),
		OrderType:      models.OrderType(o.Type),
		OrderClass:     string(o.OrderClass),
		TimeInForce:    models.TimeInForce(o.TimeInForce),
		LimitPrice:     decimalPtr(o.LimitPrice),
		StopPrice:      decimalPtr(o.StopPrice),
		Status:         string(o.Status),
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}

	for i := range o.Legs {
		leg := orderFromAlpaca(&o.Legs[i])
		leg.ParentOrderID = o.ID
		switch leg.OrderType {
		case models.OrderTypeLimit:
			out.TakeProfitOrderID = leg.OrderID
		default:
			out.StopLossOrderID = leg.OrderID
		}
		out.Legs = append(out.Legs, leg)
	}
	return out
}

func quantity(qty float64) *decimal.Decimal {
	d := decimal.NewFromFloat(qty)
	return &d
}

// price rounds to cents, or to four places below one dollar where the
// venue accepts sub-penny increments.
func price(p float64) *decimal.Decimal {
	d := decimal.NewFromFloat(p)
	if p >= 1 {
		d = d.Round(2)
	} else {
		d = d.Round(4)
	}
	return &d
}

func decimalValue(d *decimal.Decimal) float64 {
	if d == nil {
		return 0
	}
	return d.InexactFloat64()
}

func decimalPtr(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}

// GetNews reads the Alpaca news feed for symbol.
func (g *AlpacaGateway) GetNews(ctx context.Context, symbol string, limit int) ([]models.NewsArticle, error) {
	var news []marketdata.News
	err := g.call(ctx, "get_news", symbol, func() (err error) {
		news, err = g.data.GetNews(marketdata.GetNewsRequest{
			Symbols:    []string{symbol},
			TotalLimit: limit,
			Sort:       marketdata.SortDesc,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.NewsArticle, 0, len(news))
	for _, n := range news {
		out = append(out, models.NewsArticle{
			ID:        n.ID,
			Headline:  n.Headline,
			Summary:   n.Summary,
			Author:    n.Author,
			URL:       n.URL,
			Symbols:   n.Symbols,
			CreatedAt: n.CreatedAt,
		})
	}
	return out, nil
}
