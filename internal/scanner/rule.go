package scanner

import (
	"fmt"
	"math"

	"github.com/elegroag/trading-alpaca-backend/internal/config"
	"github.com/elegroag/trading-alpaca-backend/internal/models"
)

// No-signal reasons
const (
	ReasonInsufficientBars = "insufficient bars"
	ReasonNoSetup          = "no trend/RSI setup"
	ReasonInvalidATR       = "invalid ATR"
	ReasonInvalidStop      = "invalid stop price"
	ReasonZeroQty          = "position size rounds to zero"
	ReasonNoAccount        = "account unavailable"
	ReasonNoBars           = "bars unavailable"
)

// Rule is the trend plus RSI screen with ATR-based exits.
type Rule struct {
	EMAFast       int
	EMASlow       int
	RSIPeriod     int
	RSILow        float64
	RSIHigh       float64
	ATRPeriod     int
	ATRMultiplier float64
	RewardRisk    float64
}

// RuleFromConfig copies the rule parameters out of the scanner config.
func RuleFromConfig(cfg config.Scanner) Rule {
	return Rule{
		EMAFast:       cfg.EMAFast,
		EMASlow:       cfg.EMASlow,
		RSIPeriod:     cfg.RSIPeriod,
		RSILow:        cfg.RSILow,
		RSIHigh:       cfg.RSIHigh,
		ATRPeriod:     cfg.ATRPeriod,
		ATRMultiplier: cfg.ATRMultiplier,
		RewardRisk:    cfg.RewardRisk,
	}
}

// MinBars is the shortest history the rule can evaluate.
func (r Rule) MinBars() int {
	return max(r.EMASlow, r.RSIPeriod+1, r.ATRPeriod)
}

// Setup is the state of the latest bar when the screen passes.
type Setup struct {
	Close float64
	ATR   float64
}

// Evaluate screens the latest bar. It returns ok=false and a reason when
// there is no entry signal.
func (r Rule) Evaluate(bars []models.Bar) (Setup, bool, string) {
	if len(bars) < r.MinBars() {
		return Setup{}, false, fmt.Sprintf("%s: have %d, need %d", ReasonInsufficientBars, len(bars), r.MinBars())
	}

	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
	}

	last := len(bars) - 1
	fast := EMA(closes, r.EMAFast)[last]
	slow := EMA(closes, r.EMASlow)[last]
	rsi := RSI(closes, r.RSIPeriod)[last]
	atr := ATR(highs, lows, closes, r.ATRPeriod)[last]
	closePrice := closes[last]

	trendUp := fast > slow
	aboveFast := closePrice > fast
	rsiOK := rsi >= r.RSILow && rsi <= r.RSIHigh

	if !(trendUp && aboveFast && rsiOK) {
		return Setup{}, false, fmt.Sprintf("%s (ema_fast=%.2f ema_slow=%.2f close=%.2f rsi=%.1f)",
			ReasonNoSetup, fast, slow, closePrice, rsi)
	}
	return Setup{Close: closePrice, ATR: atr}, true, ""
}

// Sizing is a fully priced long entry.
type Sizing struct {
	Qty             float64
	EntryPrice      float64
	StopPrice       float64
	TakeProfitPrice float64
}

// Size places the stop ATRMultiplier ATRs below the entry and the target
// RewardRisk times the risk above it, risking riskAmount in total.
func (r Rule) Size(setup Setup, riskAmount float64) (Sizing, bool, string) {
	if math.IsNaN(setup.ATR) || setup.ATR <= 0 {
		return Sizing{}, false, ReasonInvalidATR
	}

	entry := round2(setup.Close)
	stop := round2(entry - r.ATRMultiplier*setup.ATR)
	if stop <= 0 {
		return Sizing{}, false, ReasonInvalidStop
	}
	perShare := entry - stop
	if perShare <= 0 {
		return Sizing{}, false, ReasonInvalidStop
	}

	qty := math.Floor(riskAmount / perShare)
	if qty <= 0 {
		return Sizing{}, false, ReasonZeroQty
	}

	return Sizing{
		Qty:             qty,
		EntryPrice:      entry,
		StopPrice:       stop,
		TakeProfitPrice: round2(entry + r.RewardRisk*perShare),
	}, true, ""
}
