// WebSocket hub for streaming price updates to the betting UI.
package wager

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/turfline/wager-engine/internal/metrics"
	"github.com/turfline/wager-engine/internal/model"
)

// WSOptionPrice is one option's slice of a price update.
type WSOptionPrice struct {
	OptionID string `json:"option_id"`
	Title    string `json:"title"`
	Price    int    `json:"price"`
}

// WSMessage is a JSON message pushed to WebSocket clients whenever a
// market's price vector changes.
type WSMessage struct {
	Type            string          `json:"type"` // "stake_recorded" or "market_settled"
	MarketID        string          `json:"market_id"`
	State           string          `json:"state"`
	TotalVolume     int64           `json:"total_volume"`
	Prices          []WSOptionPrice `json:"prices"`
	WinningOptionID string          `json:"winning_option_id,omitempty"`
}

// priceUpdate builds the broadcast payload for a market.
func priceUpdate(event string, m model.Market) WSMessage {
	msg := WSMessage{
		Type:            event,
		MarketID:        m.ID,
		State:           string(m.State),
		TotalVolume:     m.TotalVolume,
		WinningOptionID: m.WinningOptionID,
	}
	for _, o := range m.Options {
		msg.Prices = append(msg.Prices, WSOptionPrice{
			OptionID: o.ID,
			Title:    o.Title,
			Price:    o.CurrentPrice,
		})
	}
	return msg
}

// WSHub manages WebSocket connections and fans price updates out to all
// connected clients.
type WSHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *WSHub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			slog.Info("ws client connected", "total", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a message to all connected clients. Drops the message
// if the buffer is full so placement never blocks on slow clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // UI is served cross-origin in development
	},
}

// HandleWS handles WebSocket upgrade requests.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- conn

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep the connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}
