// Package scanner screens symbols for swing entries and optionally places
// the resulting trades.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/elegroag/trading-alpaca-backend/internal/config"
	"github.com/elegroag/trading-alpaca-backend/internal/gateway"
	"github.com/elegroag/trading-alpaca-backend/internal/metrics"
	"github.com/elegroag/trading-alpaca-backend/internal/models"
)

// ErrStopped is returned by Scan once the worker pool has been stopped.
var ErrStopped = errors.New("scanner stopped")

// Trader places swing trades. The order orchestrator implements it.
type Trader interface {
	PlaceSwingTrade(ctx context.Context, req models.SwingTradeRequest) (*models.Order, error)
}

// scanJob is one symbol waiting for a worker
type scanJob struct {
	ctx      context.Context
	index    int
	symbol   string
	risk     *riskBudget
	execute  bool
	resultCh chan<- indexedResult
}

type indexedResult struct {
	index  int
	result models.ScanResult
}

// riskBudget resolves the per-trade risk amount at most once per scan, and
// only if some symbol actually has a signal.
type riskBudget struct {
	once   sync.Once
	amount float64
	err    error
	load   func() (float64, error)
}

func (r *riskBudget) get() (float64, error) {
	r.once.Do(func() {
		r.amount, r.err = r.load()
	})
	return r.amount, r.err
}

// Scanner evaluates symbols on a fixed pool of workers
type Scanner struct {
	gw     gateway.Gateway
	trader Trader
	cfg    config.Scanner
	rule   Rule
	tf     gateway.Timeframe
	log    *slog.Logger

	workers int
	jobs    chan scanJob
	stopCh  chan struct{}
	stop    sync.Once
	wg      sync.WaitGroup
}

// New creates a Scanner. Call Start before Scan.
func New(gw gateway.Gateway, trader Trader, cfg config.Scanner, logger *slog.Logger) (*Scanner, error) {
	tf := gateway.DailyTimeframe
	if cfg.Timeframe != "" {
		parsed, err := gateway.ParseTimeframe(cfg.Timeframe)
		if err != nil {
			return nil, fmt.Errorf("scanner timeframe: %w", err)
		}
		tf = parsed
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Scanner{
		gw:      gw,
		trader:  trader,
		cfg:     cfg,
		rule:    RuleFromConfig(cfg),
		tf:      tf,
		log:     logger.With("component", "scanner"),
		workers: workers,
		jobs:    make(chan scanJob, workers*4),
		stopCh:  make(chan struct{}),
	}, nil
}

// Start starts the worker pool
func (s *Scanner) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.log.Info("scanner workers started", "workers", s.workers)
}

// Stop stops the workers and waits for in-flight symbols to finish
func (s *Scanner) Stop() {
	s.stop.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	s.log.Info("scanner stopped")
}

func (s *Scanner) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case job := <-s.jobs:
			s.log.Debug("scanning symbol", "worker", id, "symbol", job.symbol, "execute", job.execute)
			job.resultCh <- indexedResult{
				index:  job.index,
				result: s.scanSymbol(job.ctx, job.symbol, job.risk, job.execute),
			}
		}
	}
}

// DefaultTickers is the configured fallback universe.
func (s *Scanner) DefaultTickers() []string {
	return models.NormalizeSymbols(s.cfg.DefaultTickers)
}

// Scan evaluates every ticker and returns one result per distinct symbol in
// input order. With execute false nothing is placed. A failure for one
// symbol is reported in its result and never affects the others. An empty
// ticker list scans the configured defaults.
func (s *Scanner) Scan(ctx context.Context, tickers []string, execute bool) ([]models.ScanResult, error) {
	symbols := models.NormalizeSymbols(tickers)
	if len(symbols) == 0 {
		symbols = s.DefaultTickers()
	}

	risk := s.newRiskBudget(ctx)
	resultCh := make(chan indexedResult, len(symbols))

	submitted := 0
	for i, symbol := range symbols {
		select {
		case s.jobs <- scanJob{ctx: ctx, index: i, symbol: symbol, risk: risk, execute: execute, resultCh: resultCh}:
			submitted++
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.stopCh:
			return nil, ErrStopped
		}
	}

	// resultCh is buffered for every symbol, so abandoning it never blocks
	// a worker.
	results := make([]models.ScanResult, len(symbols))
	for i := 0; i < submitted; i++ {
		select {
		case r := <-resultCh:
			results[r.index] = r.result
		case <-s.stopCh:
			return nil, ErrStopped
		}
	}

	s.log.Info("scan complete", "symbols", len(symbols), "execute", execute, "signals", countSignals(results))
	return results, nil
}

func (s *Scanner) newRiskBudget(ctx context.Context) *riskBudget {
	return &riskBudget{load: func() (float64, error) {
		if s.cfg.RiskAmount > 0 {
			return s.cfg.RiskAmount, nil
		}
		acct, err := s.gw.GetAccount(ctx)
		if err != nil {
			return 0, err
		}
		return acct.Equity * s.cfg.RiskPerTrade, nil
	}}
}

// Evaluate runs the screen and sizing for one symbol without placing
// anything.
func (s *Scanner) Evaluate(ctx context.Context, symbol string) models.ScanResult {
	return s.evaluate(ctx, models.NormalizeSymbol(symbol), s.newRiskBudget(ctx))
}

func (s *Scanner) evaluate(ctx context.Context, symbol string, risk *riskBudget) models.ScanResult {
	result := models.ScanResult{Symbol: symbol}

	bars, err := s.gw.GetBars(ctx, symbol, s.tf, s.cfg.Lookback)
	if err != nil {
		s.log.Warn("bars unavailable", "symbol", symbol, "error", err)
		result.Reason = fmt.Sprintf("%s: %v", ReasonNoBars, err)
		return result
	}

	setup, ok, reason := s.rule.Evaluate(bars)
	if !ok {
		result.Reason = reason
		return result
	}

	amount, err := risk.get()
	if err != nil {
		result.Reason = fmt.Sprintf("%s: %v", ReasonNoAccount, err)
		return result
	}

	sizing, ok, reason := s.rule.Size(setup, amount)
	if !ok {
		result.Reason = reason
		return result
	}

	result.HasSignal = true
	result.Qty = sizing.Qty
	result.EntryPrice = sizing.EntryPrice
	result.StopPrice = sizing.StopPrice
	result.TakeProfitPrice = sizing.TakeProfitPrice
	return result
}

// Execute places the swing trade described by a signalled result and
// returns the result updated with the order id. On failure the reason is
// recorded on the result and the placement error is returned as well, so
// callers can tell a *models.PartialBracketError from a clean rejection.
func (s *Scanner) Execute(ctx context.Context, result models.ScanResult) (models.ScanResult, error) {
	if !result.HasSignal {
		return result, nil
	}

	order, err := s.trader.PlaceSwingTrade(ctx, models.SwingTradeRequest{
		Symbol:          result.Symbol,
		Qty:             result.Qty,
		EntryPrice:      result.EntryPrice,
		TakeProfitPrice: result.TakeProfitPrice,
		StopLossPrice:   result.StopPrice,
	})
	if err != nil {
		s.log.Warn("swing trade failed", "symbol", result.Symbol, "error", err)
		result.Reason = err.Error()
		metrics.RecordScanResult("failed")
		return result, err
	}

	result.OrderID = order.OrderID
	result.Status = order.Status
	metrics.RecordScanResult("executed")
	return result, nil
}

func (s *Scanner) scanSymbol(ctx context.Context, symbol string, risk *riskBudget, execute bool) models.ScanResult {
	result := s.evaluate(ctx, symbol, risk)
	if !result.HasSignal {
		metrics.RecordScanResult("no_signal")
		return result
	}
	metrics.RecordScanResult("signal")
	if !execute {
		return result
	}
	// Scans report failures through Reason.
	result, _ = s.Execute(ctx, result)
	return result
}

func countSignals(results []models.ScanResult) int {
	n := 0
	for _, r := range results {
		if r.HasSignal {
			n++
		}
	}
	return n
}
