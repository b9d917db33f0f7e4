package orders

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/elegroag/trading-alpaca-backend/internal/config"
	"github.com/elegroag/trading-alpaca-backend/internal/gateway/gatewaytest"
	"github.com/elegroag/trading-alpaca-backend/internal/logging"
	"github.com/elegroag/trading-alpaca-backend/internal/models"
)

type recordedEvent struct {
	Event   string
	Payload any
	Targets []string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) Broadcast(event string, payload any, targets ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{Event: event, Payload: payload, Targets: targets})
}

func (p *recordingPublisher) named(event string) []recordedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []recordedEvent
	for _, e := range p.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func testTradingConfig() config.Trading {
	cfg := config.Defaults().Trading
	cfg.LegConfirmAttempts = 2
	cfg.LegConfirmDelay = time.Millisecond
	return cfg
}

func newTestOrchestrator(cfg config.Trading) (*Orchestrator, *gatewaytest.Fake, *recordingPublisher) {
	fake := gatewaytest.New()
	pub := &recordingPublisher{}
	return NewOrchestrator(fake, pub, cfg, logging.Discard()), fake, pub
}

func ptr(f float64) *float64 { return &f }

func TestPlaceOrder_MarketSuccess(t *testing.T) {
	orch, fake, pub := newTestOrchestrator(testTradingConfig())
	fake.SetQuote("AAPL", 150)

	order, err := orch.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol:    "aapl",
		Qty:       10,
		Side:      "buy",
		OrderType: "market",
	})
	if err != nil {
		t.Fatalf("PlaceOrder() error: %v", err)
	}

	if order.Symbol != "AAPL" || order.Qty != 10 || order.Side != models.SideBuy {
		t.Errorf("unexpected order: %+v", order)
	}
	if order.Status != models.OrderStatusAccepted {
		t.Errorf("Status = %q, want accepted", order.Status)
	}
	if order.OrderID == "" {
		t.Error("expected order id")
	}

	created := pub.named(models.EventOrderCreated)
	if len(created) != 1 {
		t.Fatalf("expected 1 order_created event, got %d", len(created))
	}
	if len(created[0].Targets) != 0 {
		t.Errorf("order_created should go to all clients, got targets %v", created[0].Targets)
	}
}

func TestPlaceOrder_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  models.OrderRequest
	}{
		{"zero qty", models.OrderRequest{Symbol: "AAPL", Qty: 0, Side: "buy", OrderType: "market"}},
		{"negative qty", models.OrderRequest{Symbol: "AAPL", Qty: -1, Side: "buy", OrderType: "market"}},
		{"empty symbol", models.OrderRequest{Symbol: "  ", Qty: 1, Side: "buy", OrderType: "market"}},
		{"bad side", models.OrderRequest{Symbol: "AAPL", Qty: 1, Side: "hold", OrderType: "market"}},
		{"limit without price", models.OrderRequest{Symbol: "AAPL", Qty: 1, Side: "buy", OrderType: "limit"}},
		{"market with price", models.OrderRequest{Symbol: "AAPL", Qty: 1, Side: "buy", OrderType: "market", LimitPrice: ptr(10)}},
		{"stop order", models.OrderRequest{Symbol: "AAPL", Qty: 1, Side: "buy", OrderType: "stop"}},
		{"bad time in force", models.OrderRequest{Symbol: "AAPL", Qty: 1, Side: "buy", OrderType: "limit", LimitPrice: ptr(10), TimeInForce: "ioc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch, fake, pub := newTestOrchestrator(testTradingConfig())

			_, err := orch.PlaceOrder(context.Background(), tt.req)

			var verr *models.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if fake.TotalCalls() != 0 {
				t.Errorf("expected no gateway calls, got %d", fake.TotalCalls())
			}
			if len(pub.events) != 0 {
				t.Errorf("expected no events, got %d", len(pub.events))
			}
		})
	}
}

func TestPlaceOrder_ValueLimits(t *testing.T) {
	cfg := testTradingConfig()
	cfg.MaxOrderValue = 1000
	orch, fake, _ := newTestOrchestrator(cfg)

	_, err := orch.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol: "MSFT", Qty: 10, Side: "buy", OrderType: "limit", LimitPrice: ptr(300),
	})
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for 3000 > 1000, got %v", err)
	}
	if fake.Placements() != 0 {
		t.Errorf("expected no placement, got %d", fake.Placements())
	}

	// Limit orders are priced from the limit price, no quote needed.
	if fake.CallCount("GetQuote") != 0 {
		t.Errorf("limit order should not fetch a quote")
	}
}

func TestPlaceOrder_NoLimitsSkipsQuote(t *testing.T) {
	cfg := testTradingConfig()
	cfg.MinOrderValue = 0
	cfg.MaxOrderValue = 0
	orch, fake, _ := newTestOrchestrator(cfg)

	if _, err := orch.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol: "TSLA", Qty: 1, Side: "sell", OrderType: "market",
	}); err != nil {
		t.Fatalf("PlaceOrder() error: %v", err)
	}
	if fake.CallCount("GetQuote") != 0 {
		t.Errorf("expected no quote fetch without bounds, got %d", fake.CallCount("GetQuote"))
	}
}

func TestPlaceOrder_BrokerRejection(t *testing.T) {
	orch, fake, pub := newTestOrchestrator(testTradingConfig())
	fake.SetQuote("AAPL", 150)
	fake.SubmitErr = errors.New("insufficient buying power")

	_, err := orch.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol: "AAPL", Qty: 10, Side: "buy", OrderType: "market",
	})

	var be *models.BrokerError
	if !errors.As(err, &be) {
		t.Fatalf("expected BrokerError, got %v", err)
	}
	if be.Reason != "insufficient buying power" {
		t.Errorf("Reason = %q, want upstream message", be.Reason)
	}
	if len(pub.named(models.EventOrderCreated)) != 0 {
		t.Error("no order_created expected on rejection")
	}
}

func TestCancelOrder(t *testing.T) {
	orch, fake, pub := newTestOrchestrator(testTradingConfig())
	fake.SetQuote("AAPL", 150)

	order, err := orch.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol: "AAPL", Qty: 1, Side: "buy", OrderType: "market",
	})
	if err != nil {
		t.Fatalf("PlaceOrder() error: %v", err)
	}

	if err := orch.CancelOrder(context.Background(), order.OrderID); err != nil {
		t.Fatalf("CancelOrder() error: %v", err)
	}
	if n := len(pub.named(models.EventOrderCancelled)); n != 1 {
		t.Errorf("expected 1 order_cancelled event, got %d", n)
	}

	err = orch.CancelOrder(context.Background(), "does-not-exist")
	var nf *models.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestPlaceSwingTrade_Native(t *testing.T) {
	orch, fake, pub := newTestOrchestrator(testTradingConfig())
	fake.NativeBrackets = true

	order, err := orch.PlaceSwingTrade(context.Background(), models.SwingTradeRequest{
		Symbol: "MSFT", Qty: 10, EntryPrice: 300, TakeProfitPrice: 320, StopLossPrice: 290,
	})
	if err != nil {
		t.Fatalf("PlaceSwingTrade() error: %v", err)
	}

	if order.TakeProfitOrderID == "" || order.StopLossOrderID == "" {
		t.Fatalf("expected linked legs, got %+v", order)
	}
	if fake.CallCount("SubmitOrder") != 0 {
		t.Errorf("native bracket should not submit separate orders")
	}

	events := pub.named(models.EventSwingTradeCreated)
	if len(events) != 1 {
		t.Fatalf("expected 1 swing_trade_created, got %d", len(events))
	}
	ev := events[0].Payload.(models.SwingTradeEvent)
	if len(ev.OrderIDs) != 3 {
		t.Errorf("OrderIDs = %v, want entry + 2 legs", ev.OrderIDs)
	}
	if ev.Mode != ModeNative {
		t.Errorf("Mode = %q, want native", ev.Mode)
	}
}

func TestPlaceSwingTrade_EmulatedFallback(t *testing.T) {
	orch, fake, pub := newTestOrchestrator(testTradingConfig())

	order, err := orch.PlaceSwingTrade(context.Background(), models.SwingTradeRequest{
		Symbol: "MSFT", Qty: 10, EntryPrice: 300, TakeProfitPrice: 320, StopLossPrice: 290,
	})
	if err != nil {
		t.Fatalf("PlaceSwingTrade() error: %v", err)
	}

	if fake.CallCount("SubmitBracketOrder") != 1 {
		t.Errorf("expected one native attempt, got %d", fake.CallCount("SubmitBracketOrder"))
	}
	placed := fake.Orders()
	if len(placed) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(placed))
	}

	entry, tp, sl := placed[0], placed[1], placed[2]
	if entry.Side != models.SideBuy || entry.OrderType != models.OrderTypeLimit || *entry.LimitPrice != 300 {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if tp.Side != models.SideSell || tp.OrderType != models.OrderTypeLimit || *tp.LimitPrice != 320 {
		t.Errorf("unexpected take-profit: %+v", tp)
	}
	if sl.Side != models.SideSell || sl.OrderType != models.OrderTypeStop || *sl.StopPrice != 290 {
		t.Errorf("unexpected stop-loss: %+v", sl)
	}
	if tp.ParentOrderID != entry.OrderID || sl.ParentOrderID != entry.OrderID {
		t.Errorf("legs not linked to entry %s: %s/%s", entry.OrderID, tp.ParentOrderID, sl.ParentOrderID)
	}
	if order.TakeProfitOrderID != tp.OrderID || order.StopLossOrderID != sl.OrderID {
		t.Errorf("returned order linkage wrong: %+v", order)
	}

	events := pub.named(models.EventSwingTradeCreated)
	if len(events) != 1 {
		t.Fatalf("expected 1 swing_trade_created, got %d", len(events))
	}
	if ev := events[0].Payload.(models.SwingTradeEvent); ev.Mode != ModeEmulated || len(ev.OrderIDs) != 3 {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestPlaceSwingTrade_FractionalUsesDayOrders(t *testing.T) {
	orch, fake, _ := newTestOrchestrator(testTradingConfig())

	if _, err := orch.PlaceSwingTrade(context.Background(), models.SwingTradeRequest{
		Symbol: "MSFT", Qty: 1.5, EntryPrice: 300, TakeProfitPrice: 320, StopLossPrice: 290,
		TimeInForce: models.TimeInForceGTC,
	}); err != nil {
		t.Fatalf("PlaceSwingTrade() error: %v", err)
	}

	placed := fake.Orders()
	if len(placed) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(placed))
	}
	for _, o := range placed {
		if o.TimeInForce != models.TimeInForceDay {
			t.Errorf("order %s (%s) time_in_force = %s, want day", o.OrderID, o.OrderType, o.TimeInForce)
		}
	}
}

func TestPlaceSwingTrade_ConfiguredEmulated(t *testing.T) {
	cfg := testTradingConfig()
	cfg.BracketMode = config.BracketEmulated
	orch, fake, _ := newTestOrchestrator(cfg)
	fake.NativeBrackets = true

	if _, err := orch.PlaceSwingTrade(context.Background(), models.SwingTradeRequest{
		Symbol: "MSFT", Qty: 10, EntryPrice: 300, TakeProfitPrice: 320, StopLossPrice: 290,
	}); err != nil {
		t.Fatalf("PlaceSwingTrade() error: %v", err)
	}
	if fake.CallCount("SubmitBracketOrder") != 0 {
		t.Error("emulated mode must not try a native bracket")
	}
	if fake.CallCount("SubmitOrder") != 3 {
		t.Errorf("expected 3 submissions, got %d", fake.CallCount("SubmitOrder"))
	}
}

func TestPlaceSwingTrade_Short(t *testing.T) {
	orch, fake, _ := newTestOrchestrator(testTradingConfig())

	if _, err := orch.PlaceSwingTrade(context.Background(), models.SwingTradeRequest{
		Symbol: "NFLX", Qty: 5, EntryPrice: 300, TakeProfitPrice: 280, StopLossPrice: 310,
	}); err != nil {
		t.Fatalf("PlaceSwingTrade() error: %v", err)
	}

	placed := fake.Orders()
	if placed[0].Side != models.SideSell {
		t.Errorf("entry side = %q, want sell", placed[0].Side)
	}
	if placed[1].Side != models.SideBuy || placed[2].Side != models.SideBuy {
		t.Errorf("exit sides = %q/%q, want buy", placed[1].Side, placed[2].Side)
	}
}

func TestPlaceSwingTrade_OrderingViolation(t *testing.T) {
	orch, fake, pub := newTestOrchestrator(testTradingConfig())

	_, err := orch.PlaceSwingTrade(context.Background(), models.SwingTradeRequest{
		Symbol: "MSFT", Qty: 10, EntryPrice: 300, TakeProfitPrice: 320, StopLossPrice: 310,
	})

	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if fake.TotalCalls() != 0 {
		t.Errorf("expected zero gateway calls, got %d", fake.TotalCalls())
	}
	if len(pub.events) != 0 {
		t.Errorf("expected no events, got %d", len(pub.events))
	}
}

func TestPlaceSwingTrade_PartialBracket(t *testing.T) {
	orch, fake, pub := newTestOrchestrator(testTradingConfig())
	fake.FailLeg[models.OrderTypeStop] = &models.BrokerError{Op: "submit_order", Reason: "stop price too close"}

	_, err := orch.PlaceSwingTrade(context.Background(), models.SwingTradeRequest{
		Symbol: "MSFT", Qty: 10, EntryPrice: 300, TakeProfitPrice: 320, StopLossPrice: 290,
	})

	var pe *models.PartialBracketError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PartialBracketError, got %v", err)
	}
	if pe.EntryOrderID == "" {
		t.Fatal("expected entry order id")
	}
	if len(pe.PlacedLegIDs) != 1 || len(pe.MissingLegs) != 1 || pe.MissingLegs[0] != "stop_loss" {
		t.Errorf("unexpected partial state: %+v", pe)
	}
	if fake.CallCount("CancelOrder") != 0 {
		t.Error("entry must not be cancelled")
	}

	entry, err := fake.GetOrder(context.Background(), pe.EntryOrderID)
	if err != nil || entry.Status == models.OrderStatusCanceled {
		t.Errorf("entry should remain live, got %+v (%v)", entry, err)
	}
	if len(pub.named(models.EventSwingTradeCreated)) != 0 {
		t.Error("no swing_trade_created on partial failure")
	}
	if len(pub.named(models.EventOrderCreated)) != 1 {
		t.Error("expected order_created for the live entry")
	}
}

func TestPlaceSwingTrade_EntryRejected(t *testing.T) {
	orch, fake, _ := newTestOrchestrator(testTradingConfig())
	fake.EntryStatus = models.OrderStatusRejected

	_, err := orch.PlaceSwingTrade(context.Background(), models.SwingTradeRequest{
		Symbol: "MSFT", Qty: 10, EntryPrice: 300, TakeProfitPrice: 320, StopLossPrice: 290,
	})

	var be *models.BrokerError
	if !errors.As(err, &be) {
		t.Fatalf("expected BrokerError, got %v", err)
	}
	if fake.CallCount("SubmitOrder") != 1 {
		t.Errorf("no legs should follow a rejected entry, got %d submissions", fake.CallCount("SubmitOrder"))
	}
}

func TestPlaceSwingTrade_EntryNeverConfirmed(t *testing.T) {
	orch, fake, _ := newTestOrchestrator(testTradingConfig())
	fake.EntryStatus = models.OrderStatusPendingNew

	_, err := orch.PlaceSwingTrade(context.Background(), models.SwingTradeRequest{
		Symbol: "MSFT", Qty: 10, EntryPrice: 300, TakeProfitPrice: 320, StopLossPrice: 290,
	})

	var pe *models.PartialBracketError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PartialBracketError, got %v", err)
	}
	if len(pe.MissingLegs) != 2 {
		t.Errorf("MissingLegs = %v, want both", pe.MissingLegs)
	}
	if fake.CallCount("GetOrder") != 2 {
		t.Errorf("expected 2 confirmation polls, got %d", fake.CallCount("GetOrder"))
	}
}

// Every valid long request ends as three linked orders or as a
// PartialBracketError whose entry is still live.
func TestPlaceSwingTrade_LinkedOrPartial(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 50; i++ {
		orch, fake, _ := newTestOrchestrator(testTradingConfig())
		if rng.Intn(3) == 0 {
			fake.FailLeg[models.OrderTypeLimit] = errors.New("tp rejected")
		}
		if rng.Intn(3) == 0 {
			fake.FailLeg[models.OrderTypeStop] = errors.New("sl rejected")
		}

		entry := 50 + rng.Float64()*200
		req := models.SwingTradeRequest{
			Symbol:          "AAPL",
			Qty:             float64(1 + rng.Intn(20)),
			EntryPrice:      entry,
			TakeProfitPrice: entry * 1.05,
			StopLossPrice:   entry * 0.97,
		}

		order, err := orch.PlaceSwingTrade(context.Background(), req)
		if err == nil {
			if len(order.Legs) != 2 {
				t.Fatalf("case %d: expected 2 legs, got %d", i, len(order.Legs))
			}
			for _, leg := range order.Legs {
				if leg.ParentOrderID != order.OrderID {
					t.Errorf("case %d: leg %s not linked", i, leg.OrderID)
				}
			}
			continue
		}

		var pe *models.PartialBracketError
		if !errors.As(err, &pe) {
			t.Fatalf("case %d: unexpected error %v", i, err)
		}
		live, gerr := fake.GetOrder(context.Background(), pe.EntryOrderID)
		if gerr != nil || live.Status == models.OrderStatusCanceled {
			t.Errorf("case %d: entry %s not live", i, pe.EntryOrderID)
		}
	}
}
