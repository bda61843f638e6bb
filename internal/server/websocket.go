package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/condr-at/globoox-preview/internal/content"
	"github.com/condr-at/globoox-preview/internal/navigation"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the reader UI may be served from another origin in development
	},
}

// MessageType represents different types of WebSocket messages
type MessageType string

const (
	MessageTypeLog              MessageType = "log"
	MessageTypeLLMRequest       MessageType = "llm_request"
	MessageTypeLLMResponse      MessageType = "llm_response"
	MessageTypeTranslationBusy  MessageType = "translation_busy"
	MessageTypeTranslationBatch MessageType = "translation_batch"
	MessageTypeViewChanged      MessageType = "view_changed"
	MessageTypeBlockTranslated  MessageType = "block_translated"
)

// WebSocketMessage represents a message sent over WebSocket
type WebSocketMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// LogMessage represents a log entry for real-time streaming
type LogMessage struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
	Module  string    `json:"module,omitempty"`
}

// BlockTranslatedMessage carries one merged block so the UI can swap its
// text in place.
type BlockTranslatedMessage struct {
	ChapterID string        `json:"chapter_id"`
	Block     content.Block `json:"block"`
}

// Client represents a WebSocket client connection
type Client struct {
	conn   *websocket.Conn
	send   chan WebSocketMessage
	hub    *Hub
	logger *logrus.Logger
}

// Hub fans session events out to every connected WebSocket client. It
// implements translation.Broadcaster and navigation.Observer.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan WebSocketMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	closeOnce  sync.Once
	logger     *logrus.Logger
	mutex      sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan WebSocketMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run dispatches messages until Close is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mutex.Unlock()
			h.logger.Debugf("WebSocket client connected. Total clients: %d", n)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mutex.Unlock()
			h.logger.Debugf("WebSocket client disconnected. Total clients: %d", n)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client; drop it rather than stall everyone.
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mutex.Unlock()

		case <-h.done:
			h.mutex.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			return
		}
	}
}

// Close stops Run and disconnects every client. It is safe to call twice.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// BroadcastMessage queues a message for every client. Messages are dropped
// when the queue is full so callers never block.
func (h *Hub) BroadcastMessage(msgType interface{}, data interface{}) {
	var messageType MessageType
	switch mt := msgType.(type) {
	case string:
		messageType = MessageType(mt)
	case MessageType:
		messageType = mt
	default:
		h.logger.Warnf("Invalid message type: %v", msgType)
		return
	}

	message := WebSocketMessage{
		Type:      messageType,
		Timestamp: time.Now(),
		Data:      data,
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("WebSocket broadcast channel is full, dropping message")
	}
}

// BroadcastLog sends a log message to all connected clients
func (h *Hub) BroadcastLog(level, message, module string) {
	h.BroadcastMessage(MessageTypeLog, LogMessage{
		Level:   level,
		Message: message,
		Time:    time.Now(),
		Module:  module,
	})
}

// ViewChanged sends the reader's new view to all connected clients
func (h *Hub) ViewChanged(v navigation.View) {
	h.BroadcastMessage(MessageTypeViewChanged, v)
}

// BlockTranslated sends a merged block to all connected clients
func (h *Hub) BlockTranslated(chapterID string, b content.Block) {
	h.BroadcastMessage(MessageTypeBlockTranslated, BlockTranslatedMessage{ChapterID: chapterID, Block: b})
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// readPump only watches for the connection going away; clients drive the
// session through HTTP.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debugf("WebSocket error: %v", err)
			}
			return
		}
	}
}

// writePump batches queued messages into one frame, one JSON document per
// line.
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			c.write(w, message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				_, _ = w.Write([]byte{'\n'})
				c.write(w, next)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(w io.Writer, message WebSocketMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		c.logger.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}
	_, _ = w.Write(data)
}

// HandleWebSocket upgrades the connection and sends the current view first
// so a new client does not wait for the next page turn.
func (s *Server) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Errorf("Failed to upgrade WebSocket connection: %v", err)
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan WebSocketMessage, 256),
		hub:    s.wsHub,
		logger: s.logger,
	}
	if s.reader != nil {
		client.send <- WebSocketMessage{Type: MessageTypeViewChanged, Timestamp: time.Now(), Data: s.reader.View()}
	}

	select {
	case client.hub.register <- client:
	case <-client.hub.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
