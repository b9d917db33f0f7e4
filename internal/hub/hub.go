// Package hub routes real-time events to connected clients and polls quotes
// for every symbol somebody is subscribed to.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/elegroag/trading-alpaca-backend/internal/config"
	"github.com/elegroag/trading-alpaca-backend/internal/gateway"
	"github.com/elegroag/trading-alpaca-backend/internal/metrics"
	"github.com/elegroag/trading-alpaca-backend/internal/models"
)

// QuoteListener is called in its own goroutine after a polled quote has
// been delivered.
type QuoteListener func(ctx context.Context, quote models.Quote)

// Hub owns the subscription table. All maps are guarded by mu.
type Hub struct {
	gw  gateway.Gateway
	cfg config.Hub
	log *slog.Logger

	mu        sync.RWMutex
	clients   map[string]*Client
	bySymbol  map[string]map[string]struct{} // symbol -> client ids
	byClient  map[string]map[string]struct{} // client id -> symbols
	listeners []QuoteListener

	// Listener calls run outside the tick so a slow one cannot stall polling.
	inflight sync.WaitGroup
}

// New creates a Hub. Run must be started for quotes to flow.
func New(gw gateway.Gateway, cfg config.Hub, logger *slog.Logger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.QuoteInterval <= 0 {
		cfg.QuoteInterval = 5 * time.Second
	}
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = 3 * time.Second
	}
	return &Hub{
		gw:       gw,
		cfg:      cfg,
		log:      logger.With("component", "hub"),
		clients:  make(map[string]*Client),
		bySymbol: make(map[string]map[string]struct{}),
		byClient: make(map[string]map[string]struct{}),
	}
}

// OnQuote registers a listener for polled quotes.
func (h *Hub) OnQuote(fn QuoteListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	h.byClient[c.id] = make(map[string]struct{})
	h.updateGauges()
}

// Disconnect removes the client from every subscriber set and closes its
// send queue. Unknown ids are ignored.
func (h *Hub) Disconnect(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return
	}
	for symbol := range h.byClient[clientID] {
		h.removeSubscriber(symbol, clientID)
	}
	delete(h.byClient, clientID)
	delete(h.clients, clientID)
	close(c.send)
	h.updateGauges()
	h.log.Debug("client disconnected", "client_id", clientID)
}

// Subscribe adds clientID to symbol's subscriber set. It is idempotent and
// reports false for unknown clients.
func (h *Hub) Subscribe(clientID, symbol string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	symbols, ok := h.byClient[clientID]
	if !ok {
		return false
	}
	symbols[symbol] = struct{}{}
	subs, ok := h.bySymbol[symbol]
	if !ok {
		subs = make(map[string]struct{})
		h.bySymbol[symbol] = subs
	}
	subs[clientID] = struct{}{}
	h.updateGauges()
	return true
}

// Unsubscribe removes clientID from symbol's subscriber set.
func (h *Hub) Unsubscribe(clientID, symbol string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if symbols, ok := h.byClient[clientID]; ok {
		delete(symbols, symbol)
	}
	h.removeSubscriber(symbol, clientID)
	h.updateGauges()
}

// removeSubscriber requires mu held for writing
func (h *Hub) removeSubscriber(symbol, clientID string) {
	subs, ok := h.bySymbol[symbol]
	if !ok {
		return
	}
	delete(subs, clientID)
	if len(subs) == 0 {
		delete(h.bySymbol, symbol)
	}
}

// updateGauges requires mu held
func (h *Hub) updateGauges() {
	metrics.SetHubState(len(h.clients), len(h.bySymbol))
}

// Subscribers returns the ids subscribed to symbol, sorted.
func (h *Hub) Subscribers(symbol string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedKeys(h.bySymbol[symbol])
}

// ActiveSymbols returns every symbol with at least one subscriber, sorted.
func (h *Hub) ActiveSymbols() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.bySymbol))
	for symbol := range h.bySymbol {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to every client, or only to the given client ids.
// Delivery never blocks: a client whose queue is full is disconnected.
func (h *Hub) Broadcast(event string, payload any, targets ...string) {
	frame, err := json.Marshal(models.Message{Event: event, Data: payload})
	if err != nil {
		h.log.Error("failed to encode event", "event", event, "error", err)
		return
	}

	var slow []string
	h.mu.RLock()
	if len(targets) == 0 {
		for id, c := range h.clients {
			if !c.enqueue(frame) {
				slow = append(slow, id)
			}
		}
	} else {
		for _, id := range targets {
			c, ok := h.clients[id]
			if !ok {
				continue
			}
			if !c.enqueue(frame) {
				slow = append(slow, id)
			}
		}
	}
	h.mu.RUnlock()

	for _, id := range slow {
		h.log.Warn("dropping slow client", "client_id", id, "event", event)
		metrics.RecordDroppedClient()
		h.Disconnect(id)
	}
}

// BroadcastToSymbol sends an event to the subscribers of symbol.
func (h *Hub) BroadcastToSymbol(symbol, event string, payload any) {
	targets := h.Subscribers(symbol)
	if len(targets) == 0 {
		return
	}
	h.Broadcast(event, payload, targets...)
}

// Run polls quotes every QuoteInterval until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.QuoteInterval)
	defer ticker.Stop()

	h.log.Info("quote polling started", "interval", h.cfg.QuoteInterval)
	for {
		select {
		case <-ctx.Done():
			h.inflight.Wait()
			h.log.Info("quote polling stopped")
			return
		case <-ticker.C:
			h.Tick(ctx)
		}
	}
}

// Tick fetches one quote per active symbol and delivers quote_update to that
// symbol's current subscribers. A failed fetch is logged and skipped. Tick
// returns once fetches and broadcasts are done; listeners may still be running.
func (h *Hub) Tick(ctx context.Context) {
	symbols := h.ActiveSymbols()
	if len(symbols) == 0 {
		return
	}
	start := time.Now()
	defer metrics.ObserveTick(start)

	h.mu.RLock()
	listeners := append([]QuoteListener(nil), h.listeners...)
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()

			fetchCtx, cancel := context.WithTimeout(ctx, h.cfg.QuoteTimeout)
			quote, err := h.gw.GetQuote(fetchCtx, symbol)
			cancel()
			metrics.RecordQuoteFetch(err)
			if err != nil {
				h.log.Warn("quote fetch failed", "symbol", symbol, "error", err)
				return
			}

			h.BroadcastToSymbol(symbol, models.EventQuoteUpdate, quote)
			for _, fn := range listeners {
				h.inflight.Add(1)
				go func(fn QuoteListener, q models.Quote) {
					defer h.inflight.Done()
					fn(ctx, q)
				}(fn, *quote)
			}
		}(symbol)
	}
	wg.Wait()
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
