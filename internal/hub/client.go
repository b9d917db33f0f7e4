package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/elegroag/trading-alpaca-backend/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	requestTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one real-time connection. Frames queued on send are written by
// a single goroutine, so per-client ordering holds.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// enqueue must be called with the hub lock held, so send is never closed
// underneath it.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (h *Hub) newClient(conn *websocket.Conn) *Client {
	c := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
	}
	h.register(c)
	return c
}

// ServeWS upgrades the request and serves the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := h.newClient(conn)
	h.log.Info("client connected", "client_id", c.id, "remote", r.RemoteAddr)
	h.Broadcast(models.EventConnected, models.ConnectedPayload{
		Message:  "connected to trading stream",
		ClientID: c.id,
	}, c.id)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *Client) {
	defer func() {
		h.Disconnect(c.id)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("websocket read error", "client_id", c.id, "error", err)
			}
			return
		}
		h.handleMessage(c.id, raw)
	}
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.log.Warn("websocket write error", "client_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// handleMessage answers one client frame. Failures are reported to the
// client as error events and never close the connection.
func (h *Hub) handleMessage(clientID string, raw []byte) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.sendError(clientID, "invalid message: "+err.Error())
		return
	}

	switch msg.Event {
	case models.EventSubscribeSymbol, models.EventUnsubscribeSymbol:
		symbol, err := parseSymbol(msg.Data)
		if err != nil {
			h.sendError(clientID, err.Error())
			return
		}
		if msg.Event == models.EventSubscribeSymbol {
			if !h.Subscribe(clientID, symbol) {
				h.sendError(clientID, "unknown client "+clientID)
				return
			}
			h.Broadcast(models.EventSubscribed, models.SymbolPayload{Symbol: symbol}, clientID)
		} else {
			h.Unsubscribe(clientID, symbol)
			h.Broadcast(models.EventUnsubscribed, models.SymbolPayload{Symbol: symbol}, clientID)
		}

	case models.EventRequestAccountUpdate:
		h.reply(clientID, models.EventAccountUpdate, func(ctx context.Context) (any, error) {
			return h.gw.GetAccount(ctx)
		})

	case models.EventRequestPositionsUpdate:
		h.reply(clientID, models.EventPositionsUpdate, func(ctx context.Context) (any, error) {
			positions, err := h.gw.GetPositions(ctx)
			if positions == nil {
				positions = []models.Position{}
			}
			return positions, err
		})

	case models.EventRequestOrdersUpdate:
		h.reply(clientID, models.EventOrdersUpdate, func(ctx context.Context) (any, error) {
			orders, err := h.gw.GetOpenOrders(ctx)
			if orders == nil {
				orders = []models.Order{}
			}
			return orders, err
		})

	default:
		h.sendError(clientID, "unknown event: "+msg.Event)
	}
}

// reply runs fetch outside any client lifetime so a disconnect does not
// abort the gateway call.
func (h *Hub) reply(clientID, event string, fetch func(ctx context.Context) (any, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	data, err := fetch(ctx)
	if err != nil {
		h.log.Warn("real-time request failed", "client_id", clientID, "event", event, "error", err)
		h.sendError(clientID, err.Error())
		return
	}
	h.Broadcast(event, data, clientID)
}

func (h *Hub) sendError(clientID, message string) {
	h.Broadcast(models.EventError, models.ErrorPayload{Message: message}, clientID)
}

func parseSymbol(data json.RawMessage) (string, error) {
	var p models.SymbolPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			return "", errors.New("invalid symbol payload")
		}
	}
	symbol := models.NormalizeSymbol(p.Symbol)
	if symbol == "" {
		return "", errors.New("symbol is required")
	}
	return symbol, nil
}
