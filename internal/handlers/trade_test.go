package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/elegroag/trading-alpaca-backend/internal/config"
	"github.com/elegroag/trading-alpaca-backend/internal/gateway/gatewaytest"
	"github.com/elegroag/trading-alpaca-backend/internal/logging"
	"github.com/elegroag/trading-alpaca-backend/internal/models"
	"github.com/elegroag/trading-alpaca-backend/internal/orders"
	"github.com/elegroag/trading-alpaca-backend/internal/scanner"
	"github.com/elegroag/trading-alpaca-backend/internal/watchlist"
)

type published struct {
	event   string
	payload any
	targets []string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Broadcast(event string, payload any, targets ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{event: event, payload: payload, targets: targets})
}

func (p *recordingPublisher) named(event string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	router *gin.Engine
	fake   *gatewaytest.Fake
	pub    *recordingPublisher
}

func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Defaults()
	logger := logging.Discard()
	fake := gatewaytest.New()
	pub := &recordingPublisher{}

	orch := orders.NewOrchestrator(fake, pub, cfg.Trading, logger)
	sc, err := scanner.New(fake, orch, cfg.Scanner, logger)
	if err != nil {
		t.Fatalf("scanner.New() error: %v", err)
	}
	sc.Start()
	t.Cleanup(sc.Stop)

	h := NewTradeHandler(fake, orch, sc, watchlist.NewMemoryStore(), logger)
	return &testEnv{
		router: NewRouter(h, nil, logger, false),
		fake:   fake,
		pub:    pub,
	}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("Failed to decode %s: %v", w.Body.String(), err)
	}
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode[map[string]any](t, w)
	code, _ := body["code"].(string)
	return code
}

// trendingBars rises 1.2 and falls 1.0 alternately, which passes the
// default screen with entry 113, stop 110.6 and target 117.8.
func trendingBars(symbol string) []models.Bar {
	bars := make([]models.Bar, 120)
	price := 100.0
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		if i > 0 {
			if i%2 == 1 {
				price += 1.2
			} else {
				price -= 1.0
			}
		}
		bars[i] = models.Bar{Symbol: symbol, Timestamp: start.AddDate(0, 0, i),
			Open: price, High: price + 0.5, Low: price - 0.5, Close: price, Volume: 1000}
	}
	return bars
}

func fallingBars(symbol string) []models.Bar {
	bars := make([]models.Bar, 120)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		price := 200 - 0.5*float64(i)
		bars[i] = models.Bar{Symbol: symbol, Timestamp: start.AddDate(0, 0, i),
			Open: price, High: price + 0.5, Low: price - 0.5, Close: price, Volume: 1000}
	}
	return bars
}

func TestPlaceOrder_Success(t *testing.T) {
	env := setupRouter(t)
	env.fake.SetQuote("AAPL", 190)

	w := env.do(http.MethodPost, "/api/orders", gin.H{
		"symbol": "AAPL", "qty": 10, "side": "buy", "order_type": "market",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	order := decode[models.Order](t, w)
	if order.OrderID == "" || order.Symbol != "AAPL" || order.Qty != 10 ||
		order.Side != models.SideBuy || order.Status != models.OrderStatusAccepted {
		t.Errorf("Unexpected order: %+v", order)
	}

	created := env.pub.named(models.EventOrderCreated)
	if len(created) != 1 {
		t.Fatalf("Expected one order_created event, got %d", len(created))
	}
	if len(created[0].targets) != 0 {
		t.Errorf("order_created should go to every client, got targets %v", created[0].targets)
	}
}

func TestPlaceOrder_Validation(t *testing.T) {
	tests := []struct {
		name string
		body gin.H
	}{
		{"zero qty", gin.H{"symbol": "AAPL", "qty": 0, "side": "buy"}},
		{"missing symbol", gin.H{"qty": 1, "side": "buy"}},
		{"bad side", gin.H{"symbol": "AAPL", "qty": 1, "side": "hold"}},
		{"limit without price", gin.H{"symbol": "AAPL", "qty": 1, "side": "buy", "order_type": "limit"}},
		{"stop type", gin.H{"symbol": "AAPL", "qty": 1, "side": "buy", "order_type": "stop"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupRouter(t)
			w := env.do(http.MethodPost, "/api/orders", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("Expected status 400, got %d", w.Code)
			}
			if code := errorCode(t, w); code != CodeValidation {
				t.Errorf("Expected code %s, got %s", CodeValidation, code)
			}
			if env.fake.Placements() != 0 {
				t.Error("Invalid order reached the gateway")
			}
		})
	}
}

func TestPlaceOrder_BrokerRejection(t *testing.T) {
	env := setupRouter(t)
	env.fake.SetQuote("AAPL", 190)
	env.fake.SubmitErr = &models.BrokerError{Op: "submit_order", Status: 403, Reason: "insufficient buying power"}

	w := env.do(http.MethodPost, "/api/orders", gin.H{"symbol": "AAPL", "qty": 10, "side": "buy"})

	if w.Code != http.StatusBadGateway {
		t.Fatalf("Expected status 502, got %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	if body["error"] != "insufficient buying power" || body["code"] != CodeBroker {
		t.Errorf("Unexpected body: %v", body)
	}
}

func TestSwingTrade_Success(t *testing.T) {
	env := setupRouter(t)

	w := env.do(http.MethodPost, "/api/swing-trade", gin.H{
		"symbol": "MSFT", "qty": 5, "entry_price": 300, "take_profit_price": 320, "stop_loss_price": 290,
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	order := decode[models.Order](t, w)
	if order.TakeProfitOrderID == "" || order.StopLossOrderID == "" {
		t.Errorf("Entry is missing leg linkage: %+v", order)
	}

	created := env.pub.named(models.EventSwingTradeCreated)
	if len(created) != 1 {
		t.Fatalf("Expected one swing_trade_created event, got %d", len(created))
	}
	ev := created[0].payload.(models.SwingTradeEvent)
	if len(ev.OrderIDs) != 3 || ev.EntryOrderID != order.OrderID {
		t.Errorf("Unexpected event: %+v", ev)
	}
	if len(env.fake.Orders()) != 3 {
		t.Errorf("Expected entry and two legs at the gateway, got %d orders", len(env.fake.Orders()))
	}
}

func TestSwingTrade_OrderingViolation(t *testing.T) {
	env := setupRouter(t)

	w := env.do(http.MethodPost, "/api/swing-trade", gin.H{
		"symbol": "MSFT", "qty": 5, "entry_price": 300, "take_profit_price": 320, "stop_loss_price": 310,
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}
	if env.fake.TotalCalls() != 0 {
		t.Errorf("Expected no gateway calls, got %d", env.fake.TotalCalls())
	}
	if len(env.pub.events) != 0 {
		t.Error("Rejected swing trade must not publish events")
	}
}

func TestSwingTrade_PartialBracket(t *testing.T) {
	env := setupRouter(t)
	env.fake.FailLeg[models.OrderTypeStop] = &models.BrokerError{Op: "submit_order", Reason: "stop price too close"}

	w := env.do(http.MethodPost, "/api/swing-trade", gin.H{
		"symbol": "MSFT", "qty": 5, "entry_price": 300, "take_profit_price": 320, "stop_loss_price": 290,
	})

	if w.Code != http.StatusBadGateway {
		t.Fatalf("Expected status 502, got %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	if body["code"] != CodePartialBracket || body["entry_order_id"] != "ord-1" {
		t.Errorf("Unexpected body: %v", body)
	}
	if legs, _ := body["placed_legs"].([]any); len(legs) != 1 {
		t.Errorf("Expected the take-profit leg reported as placed, got %v", body["placed_legs"])
	}
}

func TestCancelOrder(t *testing.T) {
	env := setupRouter(t)
	env.fake.SetQuote("AAPL", 190)
	placed := decode[models.Order](t, env.do(http.MethodPost, "/api/orders", gin.H{"symbol": "AAPL", "qty": 1, "side": "buy"}))

	w := env.do(http.MethodDelete, "/api/orders/"+placed.OrderID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", w.Code)
	}
	if len(env.pub.named(models.EventOrderCancelled)) != 1 {
		t.Error("Expected an order_cancelled event")
	}

	w = env.do(http.MethodDelete, "/api/orders/does-not-exist", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", w.Code)
	}
	if code := errorCode(t, w); code != CodeNotFound {
		t.Errorf("Expected code %s, got %s", CodeNotFound, code)
	}
}

func TestReadEndpoints(t *testing.T) {
	env := setupRouter(t)
	env.fake.Positions = []models.Position{{Symbol: "AAPL", Qty: 3}}
	env.fake.SetQuote("AAPL", 190.25)

	if w := env.do(http.MethodGet, "/api/account", nil); w.Code != http.StatusOK {
		t.Errorf("account: status %d", w.Code)
	} else if acct := decode[models.Account](t, w); acct.Equity != 100000 {
		t.Errorf("account equity = %v", acct.Equity)
	}

	if w := env.do(http.MethodGet, "/api/positions", nil); w.Code != http.StatusOK {
		t.Errorf("positions: status %d", w.Code)
	} else if pos := decode[[]models.Position](t, w); len(pos) != 1 {
		t.Errorf("positions = %v", pos)
	}

	w := env.do(http.MethodGet, "/api/orders", nil)
	if w.Code != http.StatusOK || w.Body.String() != "[]" {
		t.Errorf("orders: status %d body %s", w.Code, w.Body.String())
	}

	if w := env.do(http.MethodGet, "/api/quote/aapl", nil); w.Code != http.StatusOK {
		t.Errorf("quote: status %d", w.Code)
	} else if q := decode[models.Quote](t, w); q.Price != 190.25 {
		t.Errorf("quote = %+v", q)
	}

	if w := env.do(http.MethodGet, "/api/quote/ZZZZ", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing quote: status %d", w.Code)
	}
}

func TestGetBars(t *testing.T) {
	env := setupRouter(t)
	env.fake.SetBars("AAPL", trendingBars("AAPL"))

	w := env.do(http.MethodGet, "/api/bars/AAPL?limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	bars := decode[[]models.Bar](t, w)
	if len(bars) != 5 {
		t.Fatalf("Expected 5 bars, got %d", len(bars))
	}
	if !bars[0].Timestamp.Before(bars[4].Timestamp) {
		t.Error("Bars should be ascending by timestamp")
	}

	for _, path := range []string{"/api/bars/AAPL?timeframe=bogus", "/api/bars/AAPL?limit=abc", "/api/bars/AAPL?limit=0"} {
		if w := env.do(http.MethodGet, path, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, w.Code)
		}
	}
}

func TestGetChartData(t *testing.T) {
	env := setupRouter(t)
	env.fake.SetBars("AAPL", trendingBars("AAPL"))
	env.fake.SetQuote("AAPL", 190.25)

	w := env.do(http.MethodGet, "/api/chart-data/aapl?limit=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	data := decode[models.ChartData](t, w)
	if len(data.Bars) != 10 {
		t.Errorf("Expected 10 bars, got %d", len(data.Bars))
	}
	if data.Quote == nil || data.Quote.Symbol != "AAPL" || data.Quote.Price != 190.25 {
		t.Errorf("Unexpected quote: %+v", data.Quote)
	}

	if w := env.do(http.MethodGet, "/api/chart-data/AAPL?limit=-1", nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a bad limit, got %d", w.Code)
	}
	// No quote available for the symbol.
	env.fake.SetBars("MSFT", trendingBars("MSFT"))
	if w := env.do(http.MethodGet, "/api/chart-data/MSFT", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without a quote, got %d", w.Code)
	}
}

func TestGetNews(t *testing.T) {
	env := setupRouter(t)
	env.fake.News["AAPL"] = []models.NewsArticle{
		{ID: 2, Headline: "second", Symbols: []string{"AAPL"}},
		{ID: 1, Headline: "first", Symbols: []string{"AAPL"}},
	}

	w := env.do(http.MethodGet, "/api/news/aapl?limit=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	news := decode[[]models.NewsArticle](t, w)
	if len(news) != 1 || news[0].ID != 2 {
		t.Errorf("Unexpected news: %+v", news)
	}

	w = env.do(http.MethodGet, "/api/news/TSLA", nil)
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("Expected empty list, got %d %s", w.Code, w.Body.String())
	}

	for _, path := range []string{"/api/news/AAPL?limit=0", "/api/news/AAPL?limit=51", "/api/news/AAPL?limit=x"} {
		if w := env.do(http.MethodGet, path, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, w.Code)
		}
	}
}

func TestSwingScan_DryRun(t *testing.T) {
	env := setupRouter(t)
	env.fake.SetBars("AAPL", trendingBars("AAPL"))
	env.fake.SetBars("TSLA", fallingBars("TSLA"))

	w := env.do(http.MethodPost, "/api/swing-scan", gin.H{"tickers": []string{"AAPL", "TSLA"}, "execute": false})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	results := decode[[]models.ScanResult](t, w)
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if !results[0].HasSignal || results[0].EntryPrice != 113 || results[0].OrderID != "" {
		t.Errorf("Unexpected AAPL result: %+v", results[0])
	}
	if results[1].HasSignal || results[1].Reason == "" {
		t.Errorf("Unexpected TSLA result: %+v", results[1])
	}
	if env.fake.Placements() != 0 {
		t.Error("Dry-run scan placed orders")
	}
}

func TestSwingScan_Execute(t *testing.T) {
	env := setupRouter(t)
	env.fake.SetBars("AAPL", trendingBars("AAPL"))

	w := env.do(http.MethodPost, "/api/swing-scan", gin.H{"tickers": []string{"AAPL"}, "execute": true})

	results := decode[[]models.ScanResult](t, w)
	if len(results) != 1 || results[0].OrderID == "" {
		t.Fatalf("Expected an executed AAPL result, got %+v", results)
	}
	if len(env.pub.named(models.EventSwingTradeCreated)) != 1 {
		t.Error("Expected swing_trade_created for the executed signal")
	}
}

func TestSwingScan_UsesWatchlist(t *testing.T) {
	env := setupRouter(t)
	env.fake.SetBars("NVDA", fallingBars("NVDA"))

	if w := env.do(http.MethodPut, "/api/watchlist", gin.H{"symbols": []string{"nvda"}}); w.Code != http.StatusOK {
		t.Fatalf("PUT watchlist: status %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/swing-scan", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	results := decode[[]models.ScanResult](t, w)
	if len(results) != 1 || results[0].Symbol != "NVDA" {
		t.Errorf("Expected the watchlist symbol, got %+v", results)
	}
}

func TestWatchlistRoutes(t *testing.T) {
	env := setupRouter(t)

	type listBody struct {
		Symbols []string `json:"symbols"`
	}

	w := env.do(http.MethodPut, "/api/watchlist", gin.H{"symbols": []string{"aapl", " msft", "AAPL"}})
	if got := decode[listBody](t, w).Symbols; !reflect.DeepEqual(got, []string{"AAPL", "MSFT"}) {
		t.Errorf("PUT = %v", got)
	}

	w = env.do(http.MethodPost, "/api/watchlist/tsla", nil)
	if got := decode[listBody](t, w).Symbols; !reflect.DeepEqual(got, []string{"AAPL", "MSFT", "TSLA"}) {
		t.Errorf("POST = %v", got)
	}

	w = env.do(http.MethodDelete, "/api/watchlist/MSFT", nil)
	if got := decode[listBody](t, w).Symbols; !reflect.DeepEqual(got, []string{"AAPL", "TSLA"}) {
		t.Errorf("DELETE = %v", got)
	}

	if w := env.do(http.MethodDelete, "/api/watchlist/MSFT", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for a symbol not on the list, got %d", w.Code)
	}

	w = env.do(http.MethodGet, "/api/watchlist", nil)
	if got := decode[listBody](t, w).Symbols; !reflect.DeepEqual(got, []string{"AAPL", "TSLA"}) {
		t.Errorf("GET = %v", got)
	}
}

func TestUnexpectedErrorIsHidden(t *testing.T) {
	env := setupRouter(t)
	env.fake.AccountErr = errors.New("dial tcp: secret internal detail")

	w := env.do(http.MethodGet, "/api/account", nil)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	if body["error"] != "internal server error" || body["code"] != CodeInternal {
		t.Errorf("Unexpected body: %v", body)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupRouter(t)

	if w := env.do(http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Errorf("health: status %d", w.Code)
	}
	w := env.do(http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("go_goroutines")) {
		t.Errorf("metrics: status %d", w.Code)
	}
}
