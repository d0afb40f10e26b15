// Package dashboard pushes change events to browser clients over WebSocket.
//
// The UI connects to /ws and reloads whatever an event names. Messages are
// notify.Event values encoded as JSON text frames; clients are never expected
// to send anything.
package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/promptshelf/promptshelf/internal/notify"
)

// writeTimeout bounds how long one slow client can hold up a broadcast.
const writeTimeout = 5 * time.Second

// Config holds hub configuration
type Config struct {
	// OriginPatterns are the allowed browser origins (default: all)
	OriginPatterns []string

	// BufferSize is how many events may queue before new ones are dropped
	BufferSize int

	// Logger for hub activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		OriginPatterns: []string{"*"},
		BufferSize:     100,
		Logger:         log.Default(),
	}
}

// Hub manages WebSocket connections and broadcasts change events.
// It implements notify.Notifier.
type Hub struct {
	originPatterns []string

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan notify.Event

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	startMu sync.Mutex

	logger *log.Logger
}

var _ notify.Notifier = (*Hub)(nil)

// NewHub creates a hub. Call Start before serving HandleWebSocket.
func NewHub(config *Config) *Hub {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 100
	}
	if len(config.OriginPatterns) == 0 {
		config.OriginPatterns = []string{"*"}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		originPatterns: config.OriginPatterns,
		clients:        make(map[*websocket.Conn]bool),
		broadcast:      make(chan notify.Event, config.BufferSize),
		ctx:            ctx,
		cancel:         cancel,
		logger:         config.Logger,
	}
}

// Start launches the broadcast loop.
func (h *Hub) Start() {
	h.startMu.Lock()
	defer h.startMu.Unlock()

	if h.started {
		return
	}
	h.started = true

	h.wg.Add(1)
	go h.broadcastLoop()
}

// Stop closes every client connection and waits for the broadcast loop.
func (h *Hub) Stop() {
	h.clientsMu.Lock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	for _, conn := range clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
	}

	h.cancel()
	h.wg.Wait()
}

// Notify queues event for every connected client. It never blocks; when the
// queue is full the event is dropped.
func (h *Hub) Notify(event notify.Event) {
	select {
	case h.broadcast <- event:
	case <-h.ctx.Done():
		return
	default:
		h.logger.Println("Warning: broadcast channel full, dropping event")
	}
}

// broadcastLoop delivers queued events to all clients.
func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case event := <-h.broadcast:
			if event.Timestamp.IsZero() {
				event.Timestamp = time.Now().UTC()
			}

			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Printf("Failed to marshal event: %v", err)
				continue
			}

			h.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				clients = append(clients, conn)
			}
			h.clientsMu.RUnlock()

			sent := 0
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					h.logger.Printf("Failed to send to client: %v", err)
					h.removeClient(conn)
					continue
				}
				sent++
			}
			if sent > 0 {
				h.logger.Printf("Broadcast %s to %d clients", event.Type, sent)
			}
		}
	}
}

// HandleWebSocket upgrades the request and registers the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	if h.ctx.Err() != nil {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	clientCount := len(h.clients)
	h.clientsMu.Unlock()

	h.logger.Printf("Client connected (total: %d)", clientCount)

	go h.readLoop(conn)
}

// readLoop keeps the connection alive and notices client disconnects.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.removeClient(conn)

	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

// removeClient safely removes a client connection
func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, exists := h.clients[conn]; exists {
		delete(h.clients, conn)
		clientCount := len(h.clients)
		h.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		h.clientsMu.Unlock()
	}
}

// ClientCount returns the current number of connected clients
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}
