package gateway

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/elegroag/trading-alpaca-backend/internal/models"
)

// Unit of a bar timeframe
type Unit int

const (
	Minute Unit = iota
	Hour
	Day
	Week
	Month
)

var unitSuffixes = []struct {
	suffix string
	unit   Unit
}{
	// Longest first: "MONTH" ends in H and "MIN" starts like "M".
	{"MONTH", Month},
	{"MIN", Minute},
	{"HOUR", Hour},
	{"DAY", Day},
	{"WEEK", Week},
	{"H", Hour},
	{"D", Day},
	{"W", Week},
	{"M", Month},
}

// Timeframe is a bar width such as 15 minutes or 1 day.
type Timeframe struct {
	Amount int
	Unit   Unit
}

// DailyTimeframe is one bar per trading day.
var DailyTimeframe = Timeframe{Amount: 1, Unit: Day}

// ParseTimeframe accepts "15Min", "1H", "1Hour", "1D", "1Day", "1W", "1M"
// and similar, case-insensitive.
func ParseTimeframe(s string) (Timeframe, error) {
	raw := strings.ToUpper(strings.TrimSpace(s))
	for _, u := range unitSuffixes {
		if !strings.HasSuffix(raw, u.suffix) {
			continue
		}
		amount, err := strconv.Atoi(strings.TrimSuffix(raw, u.suffix))
		if err != nil || amount <= 0 {
			break
		}
		return Timeframe{Amount: amount, Unit: u.unit}, nil
	}
	return Timeframe{}, models.NewValidationError("timeframe", "unsupported timeframe: %q", s)
}

func (tf Timeframe) String() string {
	switch tf.Unit {
	case Minute:
		return fmt.Sprintf("%dMin", tf.Amount)
	case Hour:
		return fmt.Sprintf("%dH", tf.Amount)
	case Day:
		return fmt.Sprintf("%dD", tf.Amount)
	case Week:
		return fmt.Sprintf("%dW", tf.Amount)
	default:
		return fmt.Sprintf("%dM", tf.Amount)
	}
}

// BarDuration is the nominal wall-clock width of one bar.
func (tf Timeframe) BarDuration() time.Duration {
	var unit time.Duration
	switch tf.Unit {
	case Minute:
		unit = time.Minute
	case Hour:
		unit = time.Hour
	case Day:
		unit = 24 * time.Hour
	case Week:
		unit = 7 * 24 * time.Hour
	default:
		unit = 30 * 24 * time.Hour
	}
	return time.Duration(tf.Amount) * unit
}

// Window is how far back to request so that limit bars are available once
// non-trading periods are skipped. Intraday windows span at least one day.
func (tf Timeframe) Window(limit int) time.Duration {
	w := 2 * time.Duration(limit) * tf.BarDuration()
	if tf.Unit == Minute && w < 24*time.Hour {
		w = 24 * time.Hour
	}
	return w
}

// BarLimits caps the number of bars per timeframe unit.
type BarLimits struct {
	MaxMinute int
	MaxHour   int
	MaxDay    int
}

// Clamp bounds a requested bar count to [1, cap]. Weekly and monthly bars
// share the daily cap.
func (l BarLimits) Clamp(tf Timeframe, requested int) int {
	if requested < 1 {
		requested = 1
	}
	var max int
	switch tf.Unit {
	case Minute:
		max = l.MaxMinute
	case Hour:
		max = l.MaxHour
	default:
		max = l.MaxDay
	}
	if max > 0 && requested > max {
		return max
	}
	return requested
}
