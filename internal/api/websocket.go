package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-history/internal/backfill"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/logging"
)

// Stream frame types. Clients send subscribe, unsubscribe and ping; the
// server sends everything else.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"

	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameSnapshot     = "snapshot"
	FrameStatus       = "status"
	FramePong         = "pong"
	FrameError        = "error"

	// streamBufferSize is the number of frames queued per client before
	// further status frames are dropped for it.
	streamBufferSize = 64
)

// StreamRequest is a frame sent by a client.
//
// Resources limits a subscription to the listed resource IDs; an empty list
// subscribes to every channel.
type StreamRequest struct {
	Type      string   `json:"type"`
	ID        string   `json:"id,omitempty"`
	Resources []string `json:"resources,omitempty"`
}

// StreamFrame is a frame sent to a client.
type StreamFrame struct {
	Type      string                   `json:"type"`
	ID        string                   `json:"id,omitempty"`
	Time      time.Time                `json:"time"`
	Resources []string                 `json:"resources,omitempty"`
	Status    *backfill.ChannelStatus  `json:"status,omitempty"`
	Statuses  []backfill.ChannelStatus `json:"statuses,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

// statusHub fans channel status changes out to stream clients.
type statusHub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	dropped atomic.Int64

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
}

// streamClient is one WebSocket connection.
type streamClient struct {
	hub  *statusHub
	conn *websocket.Conn
	send chan []byte

	// snapshot returns the current statuses sent after a subscribe.
	snapshot func() []backfill.ChannelStatus

	mu         sync.Mutex
	closed     bool
	subscribed bool
	resources  map[string]struct{} // nil means every resource
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Browsers are not a client of this API; access is gated by tickets.
		return true
	},
}

func newStatusHub(cfg config.WebSocketConfig, logger *logging.Logger) *statusHub {
	return &statusHub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

// run blocks until ctx is cancelled, then disconnects every client.
func (h *statusHub) run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := make([]*streamClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	clear(h.clients)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

func (h *statusHub) register(c *streamClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("stream client connected", "clients", n)
}

// unregister removes c and closes its send queue. Repeated calls are no-ops.
func (h *statusHub) unregister(c *streamClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		c.close()
		h.logger.Debug("stream client disconnected", "clients", n)
	}
}

// publish sends st to every client subscribed to its resource.
func (h *statusHub) publish(st backfill.ChannelStatus) {
	data, err := json.Marshal(StreamFrame{Type: FrameStatus, Time: time.Now().UTC(), Status: &st})
	if err != nil {
		h.logger.Error("encoding status frame", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*streamClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if c.wants(st.ResourceID) && !c.enqueue(data) {
			h.dropped.Add(1)
		}
	}
}

func (h *statusHub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWebSocket upgrades the connection to a status stream.
// With authentication enabled a ticket query parameter (obtained from
// POST /auth/ws-ticket) is required.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.authEnabled() {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		if !s.tickets.consume(ticket, time.Now()) {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.requestLogger(r).Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &streamClient{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, streamBufferSize),
		snapshot: s.history.Statuses,
	}
	s.hub.register(c)

	go c.writeLoop()
	go c.readLoop()
}

func (c *streamClient) readLoop() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	cfg := c.hub.cfg
	deadline := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	//nolint:errcheck // A failed deadline surfaces on the next read
	c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("stream read error", "error", err)
			}
			return
		}
		//nolint:errcheck // A failed deadline surfaces on the next read
		c.conn.SetReadDeadline(time.Now().Add(deadline))
		c.handle(data)
	}
}

func (c *streamClient) writeLoop() {
	cfg := c.hub.cfg
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			//nolint:errcheck // Write errors are caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // Connection is going away
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Write errors are caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *streamClient) handle(data []byte) {
	var req StreamRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply(StreamFrame{Type: FrameError, Error: "invalid JSON frame"})
		return
	}

	switch req.Type {
	case FrameSubscribe:
		c.subscribe(req.Resources)
		c.reply(StreamFrame{Type: FrameSubscribed, ID: req.ID, Resources: req.Resources})
		c.reply(StreamFrame{Type: FrameSnapshot, ID: req.ID, Statuses: c.filtered(c.snapshot())})
	case FrameUnsubscribe:
		c.unsubscribe()
		c.reply(StreamFrame{Type: FrameUnsubscribed, ID: req.ID})
	case FramePing:
		c.reply(StreamFrame{Type: FramePong, ID: req.ID})
	default:
		c.reply(StreamFrame{Type: FrameError, ID: req.ID, Error: "unknown frame type: " + req.Type})
	}
}

// subscribe replaces the resource filter. An empty list selects every
// resource.
func (c *streamClient) subscribe(resources []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subscribed = true
	if len(resources) == 0 {
		c.resources = nil
		return
	}
	c.resources = make(map[string]struct{}, len(resources))
	for _, id := range resources {
		c.resources[id] = struct{}{}
	}
}

func (c *streamClient) unsubscribe() {
	c.mu.Lock()
	c.subscribed = false
	c.resources = nil
	c.mu.Unlock()
}

func (c *streamClient) wants(resourceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.subscribed {
		return false
	}
	if c.resources == nil {
		return true
	}
	_, ok := c.resources[resourceID]
	return ok
}

func (c *streamClient) filtered(statuses []backfill.ChannelStatus) []backfill.ChannelStatus {
	return slices.DeleteFunc(statuses, func(st backfill.ChannelStatus) bool {
		return !c.wants(st.ResourceID)
	})
}

func (c *streamClient) reply(f StreamFrame) {
	f.Time = time.Now().UTC()
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.enqueue(data)
}

// enqueue queues data without blocking. It reports false when the client is
// closed or its queue is full.
func (c *streamClient) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *streamClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
