package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/wirehome/internal/eventbus"
	"github.com/nerrad567/wirehome/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

const (
	wsSendBufferSize = 64
	wsMaxMessageSize = 4096
	wsPingInterval   = 30 * time.Second
	wsPongWait       = 10 * time.Second
	wsReadWindow     = wsPingInterval + wsPongWait
)

// streamKinds are relayed to WebSocket clients. Inbound command kinds are
// excluded so credentials never leave the process.
var streamKinds = []eventbus.Kind{
	eventbus.KindStateChanged,
	eventbus.KindDeviceHealthChanged,
	eventbus.KindAlarmStateChanged,
	eventbus.KindActuationFailed,
	eventbus.KindActuationCompleted,
	eventbus.KindModeChanged,
	eventbus.KindLevelChanged,
	eventbus.KindOverflow,
}

// WSMessage is the envelope for every frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload selects event kinds for subscribe and unsubscribe.
type WSSubscribePayload struct {
	Kinds []string `json:"kinds"`
}

// Hub fans core events out to connected stream clients.
type Hub struct {
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
}

// streamClient is one WebSocket connection. With an empty filter it
// receives every streamed kind.
type streamClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	stop sync.Once

	mu     sync.RWMutex
	filter map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

// Run relays events from sub until ctx is cancelled, then disconnects
// every client.
func (h *Hub) Run(ctx context.Context, sub *eventbus.Subscription) {
	defer sub.Close()
	defer h.disconnectAll()
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return
		}
		h.Broadcast(ev)
	}
}

// Broadcast encodes ev once and queues it for each interested client.
// A client whose buffer is full misses the event.
func (h *Hub) Broadcast(ev eventbus.Event) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: string(ev.Kind),
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339Nano),
		Payload:   ev,
	})
	if err != nil {
		h.logger.Error("encoding stream event", "kind", ev.Kind, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.wants(string(ev.Kind)) && !c.enqueue(data) {
			h.logger.Warn("stream client buffer full, event dropped", "kind", ev.Kind)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *streamClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("stream client connected", "clients", n)
}

func (h *Hub) remove(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("stream client disconnected", "clients", n)
}

func (h *Hub) disconnectAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*streamClient]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

// handleWebSocket upgrades the request and attaches it to the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeUnavailable(w, "event stream not configured")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &streamClient{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, wsSendBufferSize),
		done:   make(chan struct{}),
		filter: make(map[string]struct{}),
	}
	s.hub.add(c)

	go c.writeLoop()
	go c.readLoop()
}

// close is safe to call from any goroutine, any number of times.
func (c *streamClient) close() {
	c.stop.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *streamClient) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *streamClient) wants(kind string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.filter) == 0 {
		return true
	}
	_, ok := c.filter[kind]
	return ok
}

func (c *streamClient) readLoop() {
	defer c.hub.remove(c)

	c.conn.SetReadLimit(wsMaxMessageSize)
	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsReadWindow))
	}
	extend("") //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(extend)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		extend("") //nolint:errcheck // a failed deadline surfaces as a read error
		c.handle(data)
	}
}

func (c *streamClient) writeLoop() {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	defer c.close()

	write := func(kind int, data []byte) error {
		if err := c.conn.SetWriteDeadline(time.Now().Add(wsPongWait)); err != nil {
			return err
		}
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case <-c.done:
			write(websocket.CloseMessage, nil) //nolint:errcheck // connection is closing anyway
			return
		case data := <-c.send:
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *streamClient) handle(data []byte) {
	var msg struct {
		Type    string             `json:"type"`
		ID      string             `json:"id"`
		Payload WSSubscribePayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", WSTypeError, map[string]string{"message": "invalid JSON message"})
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.mu.Lock()
		for _, k := range msg.Payload.Kinds {
			if msg.Type == WSTypeSubscribe {
				c.filter[k] = struct{}{}
			} else {
				delete(c.filter, k)
			}
		}
		c.mu.Unlock()
		c.reply(msg.ID, WSTypeResponse, map[string]any{msg.Type + "d": msg.Payload.Kinds})
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.reply(msg.ID, WSTypeError, map[string]string{"message": "unknown message type: " + msg.Type})
	}
}

func (c *streamClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}
