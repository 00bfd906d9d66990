package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nebula/termhost/internal/terminal"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the host only listens on loopback
	},
}

const (
	maxMessageSize = 512 * 1024
	pongWait       = 60 * time.Second
)

// Message is the envelope for every frame in both directions.
type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Reply message types.
const (
	TypeResult = "result"
	TypeError  = "error"
)

// CommandHandler answers an inbound message. The returned value is sent back
// as the payload of a "result" message; an error becomes an "error" message.
type CommandHandler func(msg Message) (interface{}, error)

// Options tune the hub.
type Options struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	return o
}

// Client represents a WebSocket client
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string
}

// ID returns the client identifier.
func (c *Client) ID() string {
	return c.id
}

// Hub fans session events out to every connected client. A client that cannot
// keep up is disconnected rather than allowed to stall the output pumps.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex

	opts    Options
	handler CommandHandler
	logger  *zap.Logger
}

var _ terminal.Emitter = (*Hub)(nil)

// NewHub creates a new Hub
func NewHub(opts Options, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, opts.SendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		opts:       opts,
		logger:     logger,
	}
}

// SetHandler installs the handler for inbound client messages. It must be
// called before Run.
func (h *Hub) SetHandler(handler CommandHandler) {
	h.handler = handler
}

// Run starts the hub's main loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("client", client.id))

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.logger.Warn("client too slow, disconnecting", zap.String("client", client.id))
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop ends Run and disconnects every client.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.logger.Debug("client unregistered", zap.String("client", client.id))
	}
}

// BroadcastJSON sends a typed message to all clients. It blocks while the
// broadcast queue is full and drops the message once the hub is stopped.
func (h *Hub) BroadcastJSON(msgType string, payload interface{}) {
	data, err := encode(msgType, "", payload)
	if err != nil {
		h.logger.Error("failed to marshal message", zap.String("type", msgType), zap.Error(err))
		return
	}

	select {
	case h.broadcast <- data:
	case <-h.done:
	}
}

// EmitData implements terminal.Emitter.
func (h *Hub) EmitData(ev terminal.DataEvent) {
	h.BroadcastJSON(terminal.EventData, ev)
}

// EmitExit implements terminal.Emitter.
func (h *Hub) EmitExit(ev terminal.ExitEvent) {
	h.BroadcastJSON(terminal.EventExit, ev)
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and registers the client. An empty
// clientID is replaced with a random one.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, clientID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	if clientID == "" {
		clientID = uuid.NewString()
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.opts.SendBuffer),
		id:   clientID,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// trySend queues data for c without blocking. It reports false when the
// client is gone or its buffer is full.
func (h *Hub) trySend(c *Client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func encode(msgType, id string, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return json.Marshal(Message{Type: msgType, ID: id, Payload: raw})
}

// readPump dispatches inbound messages to the hub's handler
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket error", zap.String("client", c.id), zap.Error(err))
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(TypeError, "", map[string]string{"error": "invalid message: " + err.Error()})
		return
	}

	if c.hub.handler == nil {
		c.reply(TypeError, msg.ID, map[string]string{"error": "commands not supported"})
		return
	}

	result, err := c.hub.handler(msg)
	if err != nil {
		c.reply(TypeError, msg.ID, map[string]string{"error": err.Error()})
		return
	}
	c.reply(TypeResult, msg.ID, result)
}

func (c *Client) reply(msgType, id string, payload interface{}) {
	data, err := encode(msgType, id, payload)
	if err != nil {
		c.hub.logger.Error("failed to marshal reply", zap.Error(err))
		return
	}
	if !c.hub.trySend(c, data) {
		c.hub.logger.Debug("reply dropped", zap.String("client", c.id), zap.String("id", id))
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One JSON message per frame; clients parse frames individually.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
