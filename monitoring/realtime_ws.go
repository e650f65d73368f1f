package monitoring

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type MessageType string

const (
	PredictionEvent MessageType = "prediction"
	TrainingEvent   MessageType = "training"
	Heartbeat       MessageType = "heartbeat"
	Subscribed      MessageType = "subscribed"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 64
)

type Message struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is what a browser may send: subscribe/unsubscribe to a
// message type. A client with no subscriptions receives everything.
type ClientMessage struct {
	Type  string      `json:"type"`
	Topic MessageType `json:"topic"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu            sync.Mutex
	closed        bool
	subscriptions map[MessageType]bool
}

// enqueue drops the message when the client is closed or too slow.
func (c *client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) wants(topic MessageType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions) == 0 || c.subscriptions[topic]
}

func (c *client) setSubscription(topic MessageType, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.subscriptions[topic] = true
	} else {
		delete(c.subscriptions, topic)
	}
}

type outbound struct {
	topic   MessageType
	payload []byte
}

// Hub fans published events out to connected websocket clients.
type Hub struct {
	clients    map[*client]struct{}
	broadcast  chan outbound
	register   chan *client
	unregister chan *client
	done       chan struct{}

	upgrader websocket.Upgrader
	logger   *zap.Logger

	count atomic.Int64
	sent  atomic.Int64
}

func NewHub(logger *zap.Logger, allowedOrigins []string) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// Run owns the client set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			WebSocketClients.Set(float64(len(h.clients)))
			h.logger.Debug("websocket client connected", zap.String("client", c.id), zap.Int("total", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.close()
			}
			h.count.Store(int64(len(h.clients)))
			WebSocketClients.Set(float64(len(h.clients)))
			h.logger.Debug("websocket client disconnected", zap.String("client", c.id), zap.Int("total", len(h.clients)))

		case msg := <-h.broadcast:
			for c := range h.clients {
				if !c.wants(msg.topic) {
					continue
				}
				if !c.enqueue(msg.payload) {
					delete(h.clients, c)
					c.close()
					continue
				}
				h.sent.Add(1)
			}
			h.count.Store(int64(len(h.clients)))

		case <-ctx.Done():
			for c := range h.clients {
				c.close()
				delete(h.clients, c)
			}
			h.count.Store(0)
			WebSocketClients.Set(0)
			return
		}
	}
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		id:            uuid.NewString(),
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		subscriptions: make(map[MessageType]bool),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go h.writePump(c)
	go h.readPump(c)
}

// Publish marshals data into a Message and queues it for every interested
// client. A full queue drops the message.
func (h *Hub) Publish(topic MessageType, data any) error {
	payload, err := encodeMessage(topic, data)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- outbound{topic: topic, payload: payload}:
	default:
		h.logger.Warn("websocket broadcast queue full, dropping message", zap.String("type", string(topic)))
	}
	return nil
}

func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

func (h *Hub) MessagesSent() int64 {
	return h.sent.Load()
}

func encodeMessage(topic MessageType, data any) ([]byte, error) {
	msg := Message{
		Type:      topic,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("websocket write failed", zap.String("client", c.id), zap.Error(err))
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

func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed", zap.String("client", c.id), zap.Error(err))
			}
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("ignoring malformed client message", zap.String("client", c.id))
			continue
		}
		h.handleClientMessage(c, msg)
	}
}

func (h *Hub) handleClientMessage(c *client, msg ClientMessage) {
	switch msg.Type {
	case "subscribe":
		c.setSubscription(msg.Topic, true)
	case "unsubscribe":
		c.setSubscription(msg.Topic, false)
	case "ping":
		if payload, err := encodeMessage(Heartbeat, nil); err == nil {
			c.enqueue(payload)
		}
		return
	default:
		return
	}
	if payload, err := encodeMessage(Subscribed, map[string]any{"topic": msg.Topic, "active": msg.Type == "subscribe"}); err == nil {
		c.enqueue(payload)
	}
}
