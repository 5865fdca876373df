package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/excerpo/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSMessage is the frame sent to websocket clients.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// LogEntry is the log frame payload broadcast to websocket clients.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// WebSocketHandler fans event-bus traffic and log lines out to connected
// websocket clients. Every frame is best effort; clients poll the REST
// surface for authoritative state.
type WebSocketHandler struct {
	events interfaces.EventService
	logger arbor.ILogger

	clients     map[*websocket.Conn]bool
	clientMutex map[*websocket.Conn]*sync.Mutex // serializes writes per connection
	mu          sync.RWMutex
}

func NewWebSocketHandler(events interfaces.EventService, logger arbor.ILogger) *WebSocketHandler {
	return &WebSocketHandler{
		events:      events,
		logger:      logger,
		clients:     make(map[*websocket.Conn]bool),
		clientMutex: make(map[*websocket.Conn]*sync.Mutex),
	}
}

// HandleWebSocket upgrades the connection and keeps it registered until the
// client goes away. The read loop only drains control frames; all data flows
// server to client.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade websocket connection")
		return
	}

	connMu := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = connMu
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info().Int("clients", count).Msg("WebSocket client connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		count := len(h.clients)
		h.mu.Unlock()
		conn.Close()
		h.logger.Info().Int("clients", count).Msg("WebSocket client disconnected")
	}()

	h.sendTo(conn, connMu, WSMessage{
		Type: "connected",
		Payload: map[string]interface{}{
			"server_time": time.Now().Format(time.RFC3339),
		},
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			break
		}
	}
}

// SubscribeToEvents registers the handler on the event bus so job and
// document events reach connected clients.
func (h *WebSocketHandler) SubscribeToEvents() error {
	if h.events == nil {
		return nil
	}

	forward := map[interfaces.EventType]string{
		interfaces.EventDocumentStatusChanged: "document_status",
		interfaces.EventIndexingProgress:      "indexing_progress",
		interfaces.EventExtractionProgress:    "extraction_progress",
		interfaces.EventJobCompleted:          "job_completed",
	}

	for eventType, wsType := range forward {
		messageType := wsType
		err := h.events.Subscribe(eventType, func(ctx context.Context, event interfaces.Event) error {
			h.broadcast(WSMessage{Type: messageType, Payload: event.Payload})
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe websocket handler to event type %s: %w", eventType, err)
		}
	}
	return nil
}

// BroadcastLog sends one log line to all connected clients. Called by the
// websocket log writer.
func (h *WebSocketHandler) BroadcastLog(entry LogEntry) {
	h.broadcast(WSMessage{Type: "log", Payload: entry})
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebSocketHandler) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal websocket message")
		return
	}

	// Snapshot under the read lock, write outside it so a slow client never
	// blocks registration.
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range conns {
		mutexes[i].Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutexes[i].Unlock()
		if err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to write websocket message")
		}
	}
}

func (h *WebSocketHandler) sendTo(conn *websocket.Conn, connMu *sync.Mutex, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal websocket message")
		return
	}

	connMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	connMu.Unlock()
	if err != nil {
		h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to write websocket message")
	}
}
