// Package gatewaytest provides an in-memory Gateway for tests.
package gatewaytest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/elegroag/trading-alpaca-backend/internal/gateway"
	"github.com/elegroag/trading-alpaca-backend/internal/models"
)

var _ gateway.Gateway = (*Fake)(nil)

// Fake is a thread-safe in-memory gateway. Orders get sequential ids
// ("ord-1", "ord-2", ...). Failure injection fields may be set before use.
type Fake struct {
	mu sync.Mutex

	Account   models.Account
	Positions []models.Position
	Quotes    map[string]models.Quote
	Bars      map[string][]models.Bar
	News      map[string][]models.NewsArticle

	// NativeBrackets makes SubmitBracketOrder succeed; otherwise it
	// returns gateway.ErrBracketUnsupported.
	NativeBrackets bool
	// EntryStatus is the status given to newly submitted orders.
	EntryStatus string

	QuoteErrors  map[string]error
	BarErrors    map[string]error
	SubmitErr    error
	BracketErr   error
	AccountErr   error
	PositionsErr error
	// FailLeg makes SubmitOrder fail for child orders of the given type.
	FailLeg map[models.OrderType]error

	orders   map[string]*models.Order
	sequence []string
	nextID   int

	Calls      map[string]int
	quoteCalls map[string]int
}

// New returns a Fake with a funded account.
func New() *Fake {
	return &Fake{
		Account: models.Account{
			AccountID:      "acct-1",
			AccountNumber:  "PA0001",
			Status:         "ACTIVE",
			Currency:       "USD",
			Cash:           100000,
			BuyingPower:    200000,
			PortfolioValue: 100000,
			Equity:         100000,
		},
		Quotes:      map[string]models.Quote{},
		Bars:        map[string][]models.Bar{},
		News:        map[string][]models.NewsArticle{},
		QuoteErrors: map[string]error{},
		BarErrors:   map[string]error{},
		FailLeg:     map[models.OrderType]error{},
		EntryStatus: models.OrderStatusAccepted,
		orders:      map[string]*models.Order{},
		Calls:       map[string]int{},
		quoteCalls:  map[string]int{},
	}
}

func (f *Fake) record(op string) {
	f.Calls[op]++
}

// CallCount returns how many times op was invoked.
func (f *Fake) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[op]
}

// QuoteCalls returns how many quotes were requested for symbol.
func (f *Fake) QuoteCalls(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quoteCalls[symbol]
}

// TotalCalls returns the number of calls across every operation.
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		n += c
	}
	return n
}

// Placements counts order submissions of any kind.
func (f *Fake) Placements() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls["SubmitOrder"] + f.Calls["SubmitBracketOrder"]
}

// Orders returns every order accepted so far, in submission order.
func (f *Fake) Orders() []models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Order, 0, len(f.sequence))
	for _, id := range f.sequence {
		out = append(out, *f.orders[id])
	}
	return out
}

// SetQuote stores a quote for symbol.
func (f *Fake) SetQuote(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Quotes[symbol] = models.Quote{Symbol: symbol, Price: price, Timestamp: time.Now().UTC()}
}

// SetQuoteError makes GetQuote fail for symbol. A nil err clears it.
func (f *Fake) SetQuoteError(symbol string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.QuoteErrors, symbol)
		return
	}
	f.QuoteErrors[symbol] = err
}

// SetBars stores bars for symbol.
func (f *Fake) SetBars(symbol string, bars []models.Bar) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Bars[symbol] = bars
}

func (f *Fake) newOrder(spec models.OrderSpec) *models.Order {
	f.nextID++
	id := fmt.Sprintf("ord-%d", f.nextID)
	now := time.Now().UTC()
	o := &models.Order{
		OrderID:       id,
		ClientOrderID: spec.ClientOrderID,
		Symbol:        spec.Symbol,
		Qty:           spec.Qty,
		Side:          spec.Side,
		OrderType:     spec.Type,
		TimeInForce:   spec.TimeInForce,
		LimitPrice:    spec.LimitPrice,
		StopPrice:     spec.StopPrice,
		Status:        f.EntryStatus,
		CreatedAt:     now,
		UpdatedAt:     now,
		ParentOrderID: spec.ParentOrderID,
	}
	f.orders[id] = o
	f.sequence = append(f.sequence, id)
	return o
}

func (f *Fake) GetAccount(ctx context.Context) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetAccount")
	if f.AccountErr != nil {
		return nil, f.AccountErr
	}
	acct := f.Account
	return &acct, nil
}

func (f *Fake) GetPositions(ctx context.Context) ([]models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetPositions")
	if f.PositionsErr != nil {
		return nil, f.PositionsErr
	}
	return append([]models.Position(nil), f.Positions...), nil
}

func (f *Fake) GetOpenOrders(ctx context.Context) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetOpenOrders")
	var out []models.Order
	for _, id := range f.sequence {
		o := f.orders[id]
		switch o.Status {
		case models.OrderStatusCanceled, models.OrderStatusFilled, models.OrderStatusRejected, models.OrderStatusExpired:
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (f *Fake) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetOrder")
	o, ok := f.orders[orderID]
	if !ok {
		return nil, &models.NotFoundError{Resource: "order", ID: orderID}
	}
	cp := *o
	return &cp, nil
}

func (f *Fake) SubmitOrder(ctx context.Context, spec models.OrderSpec) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SubmitOrder")
	if f.SubmitErr != nil {
		return nil, f.SubmitErr
	}
	if spec.ParentOrderID != "" {
		if err := f.FailLeg[spec.Type]; err != nil {
			return nil, err
		}
	}
	cp := *f.newOrder(spec)
	return &cp, nil
}

func (f *Fake) SubmitBracketOrder(ctx context.Context, entry models.OrderSpec, takeProfit, stopLoss float64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SubmitBracketOrder")
	if !f.NativeBrackets {
		return nil, gateway.ErrBracketUnsupported
	}
	if f.BracketErr != nil {
		return nil, f.BracketErr
	}

	exit := models.SideSell
	if entry.Side == models.SideSell {
		exit = models.SideBuy
	}
	parent := f.newOrder(entry)
	parent.OrderClass = "bracket"

	tp := f.newOrder(models.OrderSpec{
		Symbol: entry.Symbol, Qty: entry.Qty, Side: exit, Type: models.OrderTypeLimit,
		TimeInForce: entry.TimeInForce, LimitPrice: &takeProfit, ParentOrderID: parent.OrderID,
	})
	sl := f.newOrder(models.OrderSpec{
		Symbol: entry.Symbol, Qty: entry.Qty, Side: exit, Type: models.OrderTypeStop,
		TimeInForce: entry.TimeInForce, StopPrice: &stopLoss, ParentOrderID: parent.OrderID,
	})
	parent.TakeProfitOrderID = tp.OrderID
	parent.StopLossOrderID = sl.OrderID
	parent.Legs = []models.Order{*tp, *sl}

	cp := *parent
	return &cp, nil
}

func (f *Fake) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CancelOrder")
	o, ok := f.orders[orderID]
	if !ok {
		return &models.NotFoundError{Resource: "order", ID: orderID}
	}
	o.Status = models.OrderStatusCanceled
	return nil
}

func (f *Fake) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetQuote")
	f.quoteCalls[symbol]++
	if err := f.QuoteErrors[symbol]; err != nil {
		return nil, err
	}
	q, ok := f.Quotes[symbol]
	if !ok {
		return nil, &models.NotFoundError{Resource: "quote", ID: symbol}
	}
	return &q, nil
}

func (f *Fake) GetBars(ctx context.Context, symbol string, tf gateway.Timeframe, limit int) ([]models.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetBars")
	if err := f.BarErrors[symbol]; err != nil {
		return nil, err
	}
	bars, ok := f.Bars[symbol]
	if !ok {
		return nil, &models.BrokerError{Op: "get_bars", Reason: "no bars for " + symbol, Err: errors.New("no data")}
	}
	return gateway.LastBars(append([]models.Bar(nil), bars...), limit), nil
}

func (f *Fake) GetNews(ctx context.Context, symbol string, limit int) ([]models.NewsArticle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetNews")
	news := append([]models.NewsArticle(nil), f.News[symbol]...)
	if limit > 0 && len(news) > limit {
		news = news[:limit]
	}
	return news, nil
}
