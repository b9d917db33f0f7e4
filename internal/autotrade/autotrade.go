// Package autotrade places at most one swing trade per symbol per day when a
// polled quote arrives and the screening rule fires.
package autotrade

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/elegroag/trading-alpaca-backend/internal/gateway"
	"github.com/elegroag/trading-alpaca-backend/internal/metrics"
	"github.com/elegroag/trading-alpaca-backend/internal/models"
)

// Evaluator screens and executes a single symbol. The scanner implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, symbol string) models.ScanResult
	Execute(ctx context.Context, result models.ScanResult) (models.ScanResult, error)
}

// Notifier delivers events to a symbol's subscribers. The hub implements it.
type Notifier interface {
	BroadcastToSymbol(symbol, event string, payload any)
}

// AutoTrader reacts to quote ticks.
type AutoTrader struct {
	enabled bool
	gw      gateway.Gateway
	eval    Evaluator
	notify  Notifier
	guard   Guard
	locks   *symbolLocks
	log     *slog.Logger
	now     func() time.Time
}

// New creates an AutoTrader. A disabled AutoTrader ignores every quote.
func New(enabled bool, gw gateway.Gateway, eval Evaluator, notify Notifier, guard Guard, logger *slog.Logger) *AutoTrader {
	if guard == nil {
		guard = NewMemoryGuard()
	}
	return &AutoTrader{
		enabled: enabled,
		gw:      gw,
		eval:    eval,
		notify:  notify,
		guard:   guard,
		locks:   newSymbolLocks(),
		log:     logger.With("component", "autotrade"),
		now:     time.Now,
	}
}

// OnQuote matches hub.QuoteListener. Attempts for a symbol that is already
// being evaluated are skipped rather than queued.
func (a *AutoTrader) OnQuote(ctx context.Context, quote models.Quote) {
	if !a.enabled {
		return
	}
	symbol := models.NormalizeSymbol(quote.Symbol)
	if symbol == "" {
		return
	}
	if !a.locks.tryLock(symbol) {
		return
	}
	defer a.locks.unlock(symbol)

	outcome := a.attempt(ctx, symbol, quote)
	metrics.RecordAutoTrade(outcome)
}

func (a *AutoTrader) attempt(ctx context.Context, symbol string, quote models.Quote) string {
	day := a.now().UTC().Format("2006-01-02")

	traded, err := a.guard.Traded(ctx, symbol, day)
	if err != nil {
		a.log.Error("guard lookup failed", "symbol", symbol, "error", err)
		return "error"
	}
	if traded {
		return "already_traded"
	}

	held, err := a.holdsLong(ctx, symbol)
	if err != nil {
		a.log.Error("positions unavailable", "symbol", symbol, "error", err)
		return "error"
	}
	if held {
		return "position_held"
	}

	result := a.eval.Evaluate(ctx, symbol)
	if !result.HasSignal || result.Qty <= 0 {
		return "no_signal"
	}

	claimed, err := a.guard.Claim(ctx, symbol, day)
	if err != nil {
		a.log.Error("guard claim failed", "symbol", symbol, "error", err)
		return "error"
	}
	if !claimed {
		return "already_traded"
	}

	result, err = a.eval.Execute(ctx, result)
	if err != nil {
		// A live entry keeps today's claim even though its exits are incomplete.
		var partial *models.PartialBracketError
		if errors.As(err, &partial) {
			a.log.Error("auto swing trade partially placed",
				"symbol", symbol, "entry_order_id", partial.EntryOrderID,
				"missing_legs", partial.MissingLegs, "error", err)
			return "partial"
		}
		a.log.Warn("auto swing trade failed", "symbol", symbol, "error", err)
		if err := a.guard.Release(ctx, symbol, day); err != nil {
			a.log.Error("guard release failed", "symbol", symbol, "error", err)
		}
		return "failed"
	}

	a.log.Info("auto swing trade placed",
		"symbol", symbol,
		"order_id", result.OrderID,
		"qty", result.Qty,
		"entry", result.EntryPrice,
		"stop", result.StopPrice,
		"take_profit", result.TakeProfitPrice,
	)
	a.notify.BroadcastToSymbol(symbol, models.EventSwingAutoTrade, models.AutoTradeEvent{
		Symbol: symbol,
		Result: result,
		Quote:  &quote,
	})
	return "placed"
}

func (a *AutoTrader) holdsLong(ctx context.Context, symbol string) (bool, error) {
	positions, err := a.gw.GetPositions(ctx)
	if err != nil {
		return false, err
	}
	for _, p := range positions {
		if models.NormalizeSymbol(p.Symbol) == symbol && p.Qty > 0 {
			return true, nil
		}
	}
	return false, nil
}
