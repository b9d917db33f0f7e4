// Package orders places simple orders and swing trades against the gateway
// and publishes the resulting state changes.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/elegroag/trading-alpaca-backend/internal/config"
	"github.com/elegroag/trading-alpaca-backend/internal/gateway"
	"github.com/elegroag/trading-alpaca-backend/internal/metrics"
	"github.com/elegroag/trading-alpaca-backend/internal/models"
)

// Publisher fans events out to connected clients. No targets means every
// client.
type Publisher interface {
	Broadcast(event string, payload any, targets ...string)
}

type nopPublisher struct{}

func (nopPublisher) Broadcast(string, any, ...string) {}

// Swing trade placement modes reported in swing_trade_created.
const (
	ModeNative   = "native"
	ModeEmulated = "emulated"
)

var errEntryPending = errors.New("entry order still pending")

// Orchestrator is stateless; every method may be called concurrently.
type Orchestrator struct {
	gw  gateway.Gateway
	pub Publisher
	cfg config.Trading
	log *slog.Logger
}

// NewOrchestrator creates an Orchestrator. A nil publisher drops events.
func NewOrchestrator(gw gateway.Gateway, pub Publisher, cfg config.Trading, logger *slog.Logger) *Orchestrator {
	if pub == nil {
		pub = nopPublisher{}
	}
	return &Orchestrator{
		gw:  gw,
		pub: pub,
		cfg: cfg,
		log: logger.With("component", "orders"),
	}
}

// PlaceOrder validates and submits a market or limit order, then broadcasts
// order_created to every client.
func (o *Orchestrator) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	spec, err := o.orderSpec(req)
	if err != nil {
		return nil, err
	}
	if err := o.checkOrderValue(ctx, spec.Symbol, spec.Qty, spec.LimitPrice); err != nil {
		return nil, err
	}

	order, err := o.gw.SubmitOrder(ctx, spec)
	metrics.RecordOrder(string(spec.Type), err)
	if err != nil {
		o.log.Warn("order rejected", "symbol", spec.Symbol, "side", spec.Side, "error", err)
		return nil, asBrokerError("submit_order", err)
	}

	o.log.Info("order placed", "order_id", order.OrderID, "symbol", order.Symbol,
		"side", order.Side, "qty", order.Qty, "type", order.OrderType)
	o.pub.Broadcast(models.EventOrderCreated, order)
	return order, nil
}

func (o *Orchestrator) orderSpec(req models.OrderRequest) (models.OrderSpec, error) {
	spec := models.OrderSpec{
		Symbol:      models.NormalizeSymbol(req.Symbol),
		Qty:         req.Qty,
		Side:        models.Side(strings.ToLower(string(req.Side))),
		Type:        models.OrderType(strings.ToLower(string(req.OrderType))),
		TimeInForce: models.TimeInForce(strings.ToLower(string(req.TimeInForce))),
		LimitPrice:  req.LimitPrice,
	}
	if spec.Type == "" {
		spec.Type = models.OrderTypeMarket
	}
	if spec.TimeInForce == "" {
		spec.TimeInForce = models.TimeInForce(o.cfg.TimeInForce)
	}

	if spec.Symbol == "" {
		return spec, models.NewValidationError("symbol", "symbol is required")
	}
	if spec.Qty <= 0 {
		return spec, models.NewValidationError("qty", "qty must be greater than zero")
	}
	if spec.Side != models.SideBuy && spec.Side != models.SideSell {
		return spec, models.NewValidationError("side", "side must be buy or sell, got %q", req.Side)
	}
	switch spec.TimeInForce {
	case models.TimeInForceDay, models.TimeInForceGTC:
	default:
		return spec, models.NewValidationError("time_in_force", "time_in_force must be day or gtc, got %q", req.TimeInForce)
	}

	switch spec.Type {
	case models.OrderTypeMarket:
		if spec.LimitPrice != nil {
			return spec, models.NewValidationError("limit_price", "limit_price is only valid for limit orders")
		}
	case models.OrderTypeLimit:
		if spec.LimitPrice == nil {
			return spec, models.NewValidationError("limit_price", "limit_price is required for limit orders")
		}
		if *spec.LimitPrice <= 0 {
			return spec, models.NewValidationError("limit_price", "limit_price must be greater than zero")
		}
	default:
		return spec, models.NewValidationError("order_type", "order_type must be market or limit, got %q", req.OrderType)
	}
	return spec, nil
}

// checkOrderValue enforces the configured notional bounds. Market orders
// are priced from the latest quote, fetched only when a bound is set.
func (o *Orchestrator) checkOrderValue(ctx context.Context, symbol string, qty float64, price *float64) error {
	lo, hi := o.cfg.MinOrderValue, o.cfg.MaxOrderValue
	if lo <= 0 && hi <= 0 {
		return nil
	}

	var p float64
	if price != nil {
		p = *price
	} else {
		quote, err := o.gw.GetQuote(ctx, symbol)
		if err != nil {
			return asBrokerError("get_quote", err)
		}
		p = quote.Price
	}

	value := qty * p
	if lo > 0 && value < lo {
		return models.NewValidationError("qty", "order value %.2f is below the minimum of %.2f", value, lo)
	}
	if hi > 0 && value > hi {
		return models.NewValidationError("qty", "order value %.2f exceeds the maximum of %.2f", value, hi)
	}
	return nil
}

// CancelOrder cancels an open order and broadcasts order_cancelled.
func (o *Orchestrator) CancelOrder(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return models.NewValidationError("order_id", "order id is required")
	}

	if err := o.gw.CancelOrder(ctx, orderID); err != nil {
		var nf *models.NotFoundError
		if errors.As(err, &nf) {
			return err
		}
		return asBrokerError("cancel_order", err)
	}

	o.log.Info("order cancelled", "order_id", orderID)
	o.pub.Broadcast(models.EventOrderCancelled, map[string]string{"order_id": orderID})
	return nil
}

// PlaceSwingTrade places an entry limit order with a take-profit and a
// stop-loss exit. Native mode uses one bracket request and falls back to
// emulation when the gateway reports ErrBracketUnsupported. In emulated
// mode the entry is confirmed first and the exits are placed as separate
// orders linked to it; if an exit fails the entry stays live and a
// *models.PartialBracketError is returned.
func (o *Orchestrator) PlaceSwingTrade(ctx context.Context, req models.SwingTradeRequest) (*models.Order, error) {
	side, err := req.Validate()
	if err != nil {
		return nil, err
	}
	tif := models.TimeInForce(strings.ToLower(string(req.TimeInForce)))
	if tif == "" {
		tif = models.TimeInForceGTC
	}
	if tif != models.TimeInForceDay && tif != models.TimeInForceGTC {
		return nil, models.NewValidationError("time_in_force", "time_in_force must be day or gtc, got %q", req.TimeInForce)
	}
	entryPrice := req.EntryPrice
	if err := o.checkOrderValue(ctx, req.Symbol, req.Qty, &entryPrice); err != nil {
		return nil, err
	}

	entry := models.OrderSpec{
		Symbol:        req.Symbol,
		Qty:           req.Qty,
		Side:          side,
		Type:          models.OrderTypeLimit,
		TimeInForce:   tif,
		LimitPrice:    &entryPrice,
		ClientOrderID: "swing-" + uuid.New().String(),
	}

	if o.cfg.BracketMode != config.BracketEmulated {
		order, err := o.gw.SubmitBracketOrder(ctx, entry, req.TakeProfitPrice, req.StopLossPrice)
		switch {
		case err == nil:
			metrics.RecordOrder("bracket", nil)
			o.swingCreated(order, ModeNative)
			return order, nil
		case errors.Is(err, gateway.ErrBracketUnsupported):
			o.log.Info("native bracket unsupported, emulating", "symbol", req.Symbol)
		default:
			metrics.RecordOrder("bracket", err)
			return nil, asBrokerError("submit_bracket", err)
		}
	}

	return o.placeEmulated(ctx, entry, req.TakeProfitPrice, req.StopLossPrice)
}

func (o *Orchestrator) placeEmulated(ctx context.Context, spec models.OrderSpec, takeProfit, stopLoss float64) (*models.Order, error) {
	// Alpaca only accepts day orders for fractional quantities.
	if spec.Qty != math.Trunc(spec.Qty) && spec.TimeInForce != models.TimeInForceDay {
		o.log.Info("fractional swing trade, using day time in force", "symbol", spec.Symbol, "qty", spec.Qty)
		spec.TimeInForce = models.TimeInForceDay
	}

	entry, err := o.gw.SubmitOrder(ctx, spec)
	metrics.RecordOrder("swing_entry", err)
	if err != nil {
		return nil, asBrokerError("submit_order", err)
	}

	if err := o.confirmEntry(ctx, entry); err != nil {
		var be *models.BrokerError
		if errors.As(err, &be) && be.Op == "confirm_entry" {
			// Entry reached a terminal state; nothing is live.
			return nil, err
		}
		return nil, o.partial(entry, nil, []string{"take_profit", "stop_loss"}, err)
	}

	exit := models.SideSell
	if spec.Side == models.SideSell {
		exit = models.SideBuy
	}
	tpPrice, slPrice := takeProfit, stopLoss

	var placed []models.Order
	var missing []string
	var legErrs []error

	tp, err := o.gw.SubmitOrder(ctx, models.OrderSpec{
		Symbol:        spec.Symbol,
		Qty:           spec.Qty,
		Side:          exit,
		Type:          models.OrderTypeLimit,
		TimeInForce:   spec.TimeInForce,
		LimitPrice:    &tpPrice,
		ClientOrderID: spec.ClientOrderID + "-tp",
		ParentOrderID: entry.OrderID,
	})
	metrics.RecordOrder("swing_take_profit", err)
	if err != nil {
		missing = append(missing, "take_profit")
		legErrs = append(legErrs, fmt.Errorf("take_profit: %w", err))
	} else {
		tp.ParentOrderID = entry.OrderID
		entry.TakeProfitOrderID = tp.OrderID
		placed = append(placed, *tp)
	}

	sl, err := o.gw.SubmitOrder(ctx, models.OrderSpec{
		Symbol:        spec.Symbol,
		Qty:           spec.Qty,
		Side:          exit,
		Type:          models.OrderTypeStop,
		TimeInForce:   spec.TimeInForce,
		StopPrice:     &slPrice,
		ClientOrderID: spec.ClientOrderID + "-sl",
		ParentOrderID: entry.OrderID,
	})
	metrics.RecordOrder("swing_stop_loss", err)
	if err != nil {
		missing = append(missing, "stop_loss")
		legErrs = append(legErrs, fmt.Errorf("stop_loss: %w", err))
	} else {
		sl.ParentOrderID = entry.OrderID
		entry.StopLossOrderID = sl.OrderID
		placed = append(placed, *sl)
	}

	entry.Legs = placed
	if len(missing) > 0 {
		return nil, o.partial(entry, placed, missing, errors.Join(legErrs...))
	}

	o.swingCreated(entry, ModeEmulated)
	return entry, nil
}

// confirmEntry polls the entry until the venue has accepted it. A terminal
// rejection is reported as a BrokerError with Op "confirm_entry".
func (o *Orchestrator) confirmEntry(ctx context.Context, entry *models.Order) error {
	if !isPending(entry.Status) {
		return terminalEntryError(entry)
	}

	err := retry(ctx, o.cfg.LegConfirmAttempts, o.cfg.LegConfirmDelay, func() error {
		current, err := o.gw.GetOrder(ctx, entry.OrderID)
		if err != nil {
			return err
		}
		entry.Status = current.Status
		if isPending(current.Status) {
			return errEntryPending
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("confirm entry %s: %w", entry.OrderID, err)
	}
	return terminalEntryError(entry)
}

func isPending(status string) bool {
	return status == "" || status == models.OrderStatusPendingNew
}

func terminalEntryError(entry *models.Order) error {
	switch entry.Status {
	case models.OrderStatusRejected, models.OrderStatusCanceled, models.OrderStatusExpired:
		return &models.BrokerError{
			Op:     "confirm_entry",
			Reason: fmt.Sprintf("entry order %s was %s", entry.OrderID, entry.Status),
		}
	}
	return nil
}

func (o *Orchestrator) partial(entry *models.Order, placed []models.Order, missing []string, cause error) error {
	ids := make([]string, 0, len(placed))
	for _, leg := range placed {
		ids = append(ids, leg.OrderID)
	}
	o.log.Error("swing trade partially placed", "entry_order_id", entry.OrderID,
		"symbol", entry.Symbol, "placed_legs", ids, "missing_legs", missing, "error", cause)

	// The entry is live even though the trade is incomplete.
	o.pub.Broadcast(models.EventOrderCreated, entry)
	return &models.PartialBracketError{
		EntryOrderID: entry.OrderID,
		PlacedLegIDs: ids,
		MissingLegs:  missing,
		Err:          cause,
	}
}

func (o *Orchestrator) swingCreated(order *models.Order, mode string) {
	o.log.Info("swing trade placed", "entry_order_id", order.OrderID, "symbol", order.Symbol,
		"take_profit_order_id", order.TakeProfitOrderID, "stop_loss_order_id", order.StopLossOrderID, "mode", mode)

	o.pub.Broadcast(models.EventSwingTradeCreated, models.SwingTradeEvent{
		EntryOrderID:      order.OrderID,
		TakeProfitOrderID: order.TakeProfitOrderID,
		StopLossOrderID:   order.StopLossOrderID,
		OrderIDs:          order.OrderIDs(),
		Mode:              mode,
		Order:             order,
	})
}

// asBrokerError keeps typed errors and wraps anything else.
func asBrokerError(op string, err error) error {
	var (
		ve *models.ValidationError
		nf *models.NotFoundError
		be *models.BrokerError
		pe *models.PartialBracketError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &nf), errors.As(err, &be), errors.As(err, &pe):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &models.BrokerError{Op: op, Reason: err.Error(), Err: err}
}
