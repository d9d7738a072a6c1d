package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/rrdimport/pkg/config"
	"github.com/nicktill/rrdimport/pkg/importer"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// No Origin header means a non-browser client
		origin := r.Header.Get("Origin")
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// Message is the envelope of everything sent over the WebSocket
type Message struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// EventHub streams import progress to WebSocket clients.
// It implements importer.Observer.
type EventHub struct {
	clients map[*websocket.Conn]bool

	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte

	mu  sync.RWMutex
	log *logrus.Entry
}

// NewEventHub creates a new WebSocket hub
func NewEventHub() *EventHub {
	return &EventHub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn, config.WSChannelBuffer),
		unregister: make(chan *websocket.Conn, config.WSChannelBuffer),
		broadcast:  make(chan []byte, config.WSBroadcastBuffer),
		log:        logrus.WithField("component", "hub"),
	}
}

// Run starts the hub's main loop
func (h *EventHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
			}
			h.clients = make(map[*websocket.Conn]bool)
			h.mu.Unlock()
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.log.WithField("clients", count).Debug("websocket client connected")
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.log.WithField("clients", count).Debug("websocket client disconnected")
		case message := <-h.broadcast:
			h.mu.RLock()
			var failed []*websocket.Conn
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					h.log.WithError(err).Debug("websocket write failed")
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()

			// unregister is drained by this loop, so removal happens inline
			if len(failed) > 0 {
				h.mu.Lock()
				for _, conn := range failed {
					delete(h.clients, conn)
					conn.Close()
				}
				h.mu.Unlock()
			}
		}
	}
}

// Broadcast queues a message for all connected clients.
// It never blocks; when the queue is full the message is dropped.
func (h *EventHub) Broadcast(msgType string, data interface{}) error {
	message, err := json.Marshal(Message{
		Type:      msgType,
		Timestamp: time.Now().Unix(),
		Data:      data,
	})
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message:
	default:
		h.log.Warn("broadcast channel full, dropping message")
	}
	return nil
}

// Observe implements importer.Observer
func (h *EventHub) Observe(e importer.Event) {
	if !h.HasClients() {
		return
	}
	if err := h.Broadcast("import_event", e); err != nil {
		h.log.WithError(err).Warn("failed to broadcast import event")
	}
}

// HasClients returns true if there are any connected WebSocket clients
func (h *EventHub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// HandleWebSocket upgrades the request and keeps the connection until the client leaves
func (h *EventHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	h.register <- conn

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		ticker := time.NewTicker(config.WSPingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(config.WSWriteDeadline)); err != nil {
					return
				}
			}
		}
	}()

	defer func() {
		cancel()
		select {
		case h.unregister <- conn:
		default:
			conn.Close()
		}
	}()

	conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.WithError(err).Debug("websocket closed")
			}
			return
		}
	}
}
