package models

import (
	"strings"
	"time"
)

// Side of an order
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType accepted by the gateway. Stop is only used for stop-loss legs.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// TimeInForce for submitted orders
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTC TimeInForce = "gtc"
)

// Order statuses the orchestrator reacts to. Anything else is passed through.
const (
	OrderStatusNew        = "new"
	OrderStatusAccepted   = "accepted"
	OrderStatusPendingNew = "pending_new"
	OrderStatusFilled     = "filled"
	OrderStatusCanceled   = "canceled"
	OrderStatusRejected   = "rejected"
	OrderStatusExpired    = "expired"
)

// Account is a snapshot of the brokerage account
type Account struct {
	AccountID      string  `json:"account_id"`
	AccountNumber  string  `json:"account_number"`
	Status         string  `json:"status"`
	Currency       string  `json:"currency"`
	Cash           float64 `json:"cash"`
	BuyingPower    float64 `json:"buying_power"`
	PortfolioValue float64 `json:"portfolio_value"`
	Equity         float64 `json:"equity"`
}

// Position is an open holding. Qty is signed, positive means long.
type Position struct {
	Symbol         string  `json:"symbol"`
	Qty            float64 `json:"qty"`
	Side           string  `json:"side"`
	AvgEntryPrice  float64 `json:"avg_entry_price"`
	CurrentPrice   float64 `json:"current_price"`
	MarketValue    float64 `json:"market_value"`
	UnrealizedPL   float64 `json:"unrealized_pl"`
	UnrealizedPLPC float64 `json:"unrealized_plpc"`
}

// Order as reported by the gateway. Linkage fields are set for swing trades.
type Order struct {
	OrderID        string      `json:"order_id"`
	ClientOrderID  string      `json:"client_order_id,omitempty"`
	Symbol         string      `json:"symbol"`
	Qty            float64     `json:"qty"`
	FilledQty      float64     `json:"filled_qty"`
	FilledAvgPrice *float64    `json:"filled_avg_price,omitempty"`
	Side           Side        `json:"side"`
	OrderType      OrderType   `json:"order_type"`
	OrderClass     string      `json:"order_class,omitempty"`
	TimeInForce    TimeInForce `json:"time_in_force"`
	LimitPrice     *float64    `json:"limit_price,omitempty"`
	StopPrice      *float64    `json:"stop_price,omitempty"`
	Status         string      `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`

	ParentOrderID     string  `json:"parent_order_id,omitempty"`
	TakeProfitOrderID string  `json:"take_profit_order_id,omitempty"`
	StopLossOrderID   string  `json:"stop_loss_order_id,omitempty"`
	Legs              []Order `json:"legs,omitempty"`
}

// OrderIDs returns the entry id followed by the ids of every linked leg
func (o *Order) OrderIDs() []string {
	ids := []string{o.OrderID}
	for _, leg := range o.Legs {
		ids = append(ids, leg.OrderID)
	}
	return ids
}

// OrderSpec is what the orchestrator hands to a gateway for submission
type OrderSpec struct {
	Symbol        string
	Qty           float64
	Side          Side
	Type          OrderType
	TimeInForce   TimeInForce
	LimitPrice    *float64
	StopPrice     *float64
	ClientOrderID string
	ParentOrderID string
}

// OrderRequest - what a client sends to place a simple order
type OrderRequest struct {
	Symbol      string      `json:"symbol" binding:"required"`
	Qty         float64     `json:"qty"`
	Side        Side        `json:"side" binding:"required"`
	OrderType   OrderType   `json:"order_type"`
	LimitPrice  *float64    `json:"limit_price"`
	TimeInForce TimeInForce `json:"time_in_force"`
}

// SwingTradeRequest - entry price plus the take-profit and stop-loss exits
type SwingTradeRequest struct {
	Symbol          string      `json:"symbol" binding:"required"`
	Qty             float64     `json:"qty"`
	EntryPrice      float64     `json:"entry_price"`
	TakeProfitPrice float64     `json:"take_profit_price"`
	StopLossPrice   float64     `json:"stop_loss_price"`
	TimeInForce     TimeInForce `json:"time_in_force"`
}

// Validate checks the price ordering and returns the implied entry side.
// stop < entry < take-profit is a long, take-profit < entry < stop a short.
func (r *SwingTradeRequest) Validate() (Side, error) {
	r.Symbol = NormalizeSymbol(r.Symbol)
	if r.Symbol == "" {
		return "", NewValidationError("symbol", "symbol is required")
	}
	if r.Qty <= 0 {
		return "", NewValidationError("qty", "qty must be greater than zero")
	}
	if r.EntryPrice <= 0 || r.TakeProfitPrice <= 0 || r.StopLossPrice <= 0 {
		return "", NewValidationError("price", "entry, take-profit and stop-loss prices must be positive")
	}

	switch {
	case r.StopLossPrice < r.EntryPrice && r.EntryPrice < r.TakeProfitPrice:
		return SideBuy, nil
	case r.TakeProfitPrice < r.EntryPrice && r.EntryPrice < r.StopLossPrice:
		return SideSell, nil
	}
	return "", NewValidationError("price",
		"invalid price ordering: need stop < entry < take-profit (long) or take-profit < entry < stop (short), got stop=%.2f entry=%.2f take_profit=%.2f",
		r.StopLossPrice, r.EntryPrice, r.TakeProfitPrice)
}

// Quote is a point-in-time price read
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChartData combines recent bars with the latest quote for one symbol
type ChartData struct {
	Bars  []Bar  `json:"bars"`
	Quote *Quote `json:"quote"`
}

// NewsArticle is one headline related to a symbol
type NewsArticle struct {
	ID        int       `json:"id"`
	Headline  string    `json:"headline"`
	Summary   string    `json:"summary,omitempty"`
	Author    string    `json:"author,omitempty"`
	URL       string    `json:"url,omitempty"`
	Symbols   []string  `json:"symbols"`
	CreatedAt time.Time `json:"created_at"`
}

// Bar is one OHLCV candle
type Bar struct {
	Symbol     string    `json:"symbol"`
	Timeframe  string    `json:"timeframe"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	TradeCount int64     `json:"trade_count,omitempty"`
	VWAP       float64   `json:"vwap,omitempty"`
}

// ScanRequest - body of POST /api/swing-scan
type ScanRequest struct {
	Tickers []string `json:"tickers"`
	Execute bool     `json:"execute"`
}

// ScanResult is the verdict for one symbol. Pricing fields are only set
// when HasSignal is true.
type ScanResult struct {
	Symbol          string  `json:"symbol"`
	HasSignal       bool    `json:"has_signal"`
	Reason          string  `json:"reason,omitempty"`
	Qty             float64 `json:"qty,omitempty"`
	EntryPrice      float64 `json:"entry_price,omitempty"`
	StopPrice       float64 `json:"stop_price,omitempty"`
	TakeProfitPrice float64 `json:"take_profit_price,omitempty"`
	OrderID         string  `json:"order_id,omitempty"`
	Status          string  `json:"status,omitempty"`
}

// NormalizeSymbol trims and upper-cases a ticker
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// NormalizeSymbols normalizes, drops empties and de-duplicates, keeping
// first-seen order.
func NormalizeSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = NormalizeSymbol(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
