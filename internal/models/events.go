package models

// Real-time channel event names, server to client
const (
	EventConnected         = "connected"
	EventSubscribed        = "subscribed"
	EventUnsubscribed      = "unsubscribed"
	EventQuoteUpdate       = "quote_update"
	EventAccountUpdate     = "account_update"
	EventPositionsUpdate   = "positions_update"
	EventOrdersUpdate      = "orders_update"
	EventOrderCreated      = "order_created"
	EventOrderCancelled    = "order_cancelled"
	EventSwingTradeCreated = "swing_trade_created"
	EventSwingAutoTrade    = "swing_auto_trade"
	EventError             = "error"
)

// Client to server
const (
	EventSubscribeSymbol        = "subscribe_symbol"
	EventUnsubscribeSymbol      = "unsubscribe_symbol"
	EventRequestAccountUpdate   = "request_account_update"
	EventRequestPositionsUpdate = "request_positions_update"
	EventRequestOrdersUpdate    = "request_orders_update"
)

// Message is the envelope for every frame on the real-time channel
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// SymbolPayload is the data of subscribe/unsubscribe frames
type SymbolPayload struct {
	Symbol string `json:"symbol"`
}

// SwingTradeEvent is broadcast once a swing trade has all its orders
type SwingTradeEvent struct {
	EntryOrderID      string   `json:"entry_order_id"`
	TakeProfitOrderID string   `json:"take_profit_order_id,omitempty"`
	StopLossOrderID   string   `json:"stop_loss_order_id,omitempty"`
	OrderIDs          []string `json:"order_ids"`
	Mode              string   `json:"mode"`
	Order             *Order   `json:"order"`
}

// AutoTradeEvent is broadcast to a symbol's subscribers after an automatic
// swing trade attempt.
type AutoTradeEvent struct {
	Symbol string     `json:"symbol"`
	Result ScanResult `json:"result"`
	Quote  *Quote     `json:"quote,omitempty"`
}

// ErrorPayload is the data of an error frame
type ErrorPayload struct {
	Message string `json:"message"`
}

// ConnectedPayload greets a new real-time client
type ConnectedPayload struct {
	Message  string `json:"message"`
	ClientID string `json:"client_id"`
}
