// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ordersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trading_orders_total",
			Help: "Orders submitted through the orchestrator",
		},
		[]string{"kind", "result"},
	)

	gatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trading_gateway_request_duration_seconds",
			Help:    "Brokerage gateway call latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"op", "result"},
	)

	scanResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trading_scan_results_total",
			Help: "Per-symbol scan verdicts",
		},
		[]string{"outcome"},
	)

	quoteFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trading_hub_quote_fetches_total",
			Help: "Quote fetches made by the hub tick",
		},
		[]string{"result"},
	)

	tickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trading_hub_tick_duration_seconds",
			Help:    "Duration of one quote polling tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	hubClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trading_hub_clients",
			Help: "Connected real-time clients",
		},
	)

	hubSymbols = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trading_hub_subscribed_symbols",
			Help: "Symbols with at least one subscriber",
		},
	)

	droppedClientsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trading_hub_dropped_clients_total",
			Help: "Clients disconnected because their send queue was full",
		},
	)

	autoTradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trading_autotrade_total",
			Help: "Automatic swing trade attempts",
		},
		[]string{"result"},
	)
)

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordOrder counts one order placement of the given kind.
func RecordOrder(kind string, err error) {
	ordersTotal.WithLabelValues(kind, result(err)).Inc()
}

// ObserveGateway records the latency of one gateway call.
func ObserveGateway(op string, start time.Time, err error) {
	gatewayDuration.WithLabelValues(op, result(err)).Observe(time.Since(start).Seconds())
}

// RecordScanResult counts a scan verdict: "signal", "no_signal", "executed"
// or "failed".
func RecordScanResult(outcome string) {
	scanResultsTotal.WithLabelValues(outcome).Inc()
}

// RecordQuoteFetch counts one hub quote fetch.
func RecordQuoteFetch(err error) {
	quoteFetchesTotal.WithLabelValues(result(err)).Inc()
}

// ObserveTick records the duration of one hub tick.
func ObserveTick(start time.Time) {
	tickDuration.Observe(time.Since(start).Seconds())
}

// SetHubState updates the client and symbol gauges.
func SetHubState(clients, symbols int) {
	hubClients.Set(float64(clients))
	hubSymbols.Set(float64(symbols))
}

// RecordDroppedClient counts a slow client that was disconnected.
func RecordDroppedClient() {
	droppedClientsTotal.Inc()
}

// RecordAutoTrade counts an automatic trade attempt by result label.
func RecordAutoTrade(result string) {
	autoTradesTotal.WithLabelValues(result).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
