package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/dohr-michael/foreman/internal/events"
)

const clientQueue = 256

// Handler serves request frames. The returned value becomes the response
// payload.
type Handler interface {
	HandleFrame(ctx context.Context, method Method, params json.RawMessage) (any, error)
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu    sync.RWMutex
	types map[string]bool // nil streams everything
}

func (c *client) wants(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.types == nil || c.types[eventType]
}

func (c *client) setTypes(types []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(types) == 0 {
		c.types = nil
		return
	}
	c.types = make(map[string]bool, len(types))
	for _, t := range types {
		c.types[t] = true
	}
}

// Hub manages WebSocket clients and bridges them to the event bus.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*client]struct{}
	handler     Handler
	logger      *slog.Logger
	unsubscribe func()
}

// NewHub creates a hub that forwards every bus event to its clients and
// passes request frames to handler.
func NewHub(bus *events.Bus, handler Handler, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients: make(map[*client]struct{}),
		handler: handler,
		logger:  logger,
	}
	h.unsubscribe = bus.Subscribe(h.forward)
	return h
}

func (h *Hub) forward(e events.Event) {
	frame, err := NewEventFrame(string(e.Type), e.TraceID, e)
	if err != nil {
		h.logger.Error("marshal event frame", "error", err)
		return
	}
	data, err := MarshalFrame(frame)
	if err != nil {
		h.logger.Error("marshal frame", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(string(e.Type)) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// slow client, drop
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	h.logger.Info("ws client connected", "clients", len(h.clients))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.logger.Info("ws client disconnected", "clients", len(h.clients))
	}
}

// ServeWS upgrades the connection and serves the client until it leaves.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("ws accept", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientQueue), hub: h}
	h.register(c)

	ctx := r.Context()
	go c.writePump(ctx)
	c.readPump(ctx)
}

func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				c.hub.logger.Debug("ws read closed", "status", websocket.CloseStatus(err))
			} else {
				c.hub.logger.Debug("ws read error", "error", err)
			}
			return
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			c.reply(frame.ID, nil, "invalid frame")
			continue
		}
		if frame.Type != FrameTypeRequest {
			c.hub.logger.Debug("ws unknown frame type", "type", frame.Type)
			continue
		}
		c.handleRequest(ctx, frame)
	}
}

func (c *client) handleRequest(ctx context.Context, frame Frame) {
	method := Method(frame.Method)
	if method == MethodSubscribe {
		var p SubscribeParams
		if len(frame.Params) > 0 {
			if err := json.Unmarshal(frame.Params, &p); err != nil {
				c.reply(frame.ID, nil, "invalid params")
				return
			}
		}
		c.setTypes(p.Types)
		c.reply(frame.ID, map[string]any{"types": p.Types}, "")
		return
	}

	if c.hub.handler == nil {
		c.reply(frame.ID, nil, "unknown method: "+frame.Method)
		return
	}
	// Requests may run whole workflows; serve them off the read loop.
	go func() {
		out, err := c.hub.handler.HandleFrame(ctx, method, frame.Params)
		if err != nil {
			c.reply(frame.ID, nil, err.Error())
			return
		}
		c.reply(frame.ID, out, "")
	}()
}

func (c *client) writePump(ctx context.Context) {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *client) reply(id string, payload any, errMsg string) {
	f, err := NewResponseFrame(id, errMsg == "", payload, errMsg)
	if err != nil {
		c.hub.logger.Error("ws response frame", "error", err)
		return
	}
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Close detaches the hub from the bus and disconnects all clients.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.clients, c)
	}
}
