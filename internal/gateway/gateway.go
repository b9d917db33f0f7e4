// Package gateway defines the brokerage gateway contract and provides the
// Alpaca implementation.
package gateway

import (
	"context"
	"errors"

	"github.com/elegroag/trading-alpaca-backend/internal/models"
)

// ErrBracketUnsupported is returned by SubmitBracketOrder when the venue
// cannot accept a native bracket for the given request. Callers fall back
// to placing the entry and exits as separate orders.
var ErrBracketUnsupported = errors.New("native bracket orders not supported for this request")

// Gateway is a stateless request/response facade over the brokerage.
// Implementations translate venue failures into *models.NotFoundError or
// *models.BrokerError.
type Gateway interface {
	// GetAccount returns a fresh account snapshot.
	GetAccount(ctx context.Context) (*models.Account, error)

	// GetPositions returns every open position.
	GetPositions(ctx context.Context) ([]models.Position, error)

	// GetOpenOrders returns orders that are not yet in a terminal state.
	GetOpenOrders(ctx context.Context) ([]models.Order, error)

	// GetOrder looks up one order by id.
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)

	// SubmitOrder places a single market, limit or stop order.
	SubmitOrder(ctx context.Context, spec models.OrderSpec) (*models.Order, error)

	// SubmitBracketOrder places entry plus take-profit and stop-loss exits
	// as one atomic venue request. The returned order carries both legs.
	SubmitBracketOrder(ctx context.Context, entry models.OrderSpec, takeProfit, stopLoss float64) (*models.Order, error)

	// CancelOrder requests cancellation of an open order.
	CancelOrder(ctx context.Context, orderID string) error

	// GetQuote returns the latest price for symbol.
	GetQuote(ctx context.Context, symbol string) (*models.Quote, error)

	// GetBars returns at most limit bars for symbol, ascending by time.
	GetBars(ctx context.Context, symbol string, tf Timeframe, limit int) ([]models.Bar, error)

	// GetNews returns at most limit recent articles about symbol, newest first.
	GetNews(ctx context.Context, symbol string, limit int) ([]models.NewsArticle, error)
}
