package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/scrypster/capsule/internal/engine"
)

// WebSocketHub fans journal events out to websocket clients. It implements
// engine.EventSink.
type WebSocketHub struct {
	clients        map[clientInterface]bool
	broadcast      chan outbound
	register       chan clientInterface
	unregister     chan clientInterface
	allowedOrigins []string
	logger         *zap.Logger
	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
}

type outbound struct {
	userID  string
	payload interface{}
}

// clientInterface allows for both real clients and mock clients.
type clientInterface interface {
	getSendChannel() chan []byte
	user() string // empty subscribes to every user
	close()
}

// Client represents a WebSocket connection.
type Client struct {
	hub    *WebSocketHub
	conn   *websocket.Conn //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	send   chan []byte
	userID string
}

func (c *Client) getSendChannel() chan []byte {
	return c.send
}

func (c *Client) user() string {
	return c.userID
}

func (c *Client) close() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	}
}

// NewWebSocketHub creates a hub. Same-host origins are always accepted;
// allowedOrigins lists extra origins such as "https://diary.example".
func NewWebSocketHub(logger *zap.Logger, allowedOrigins ...string) *WebSocketHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketHub{
		clients:        make(map[clientInterface]bool),
		broadcast:      make(chan outbound, 256),
		register:       make(chan clientInterface),
		unregister:     make(chan clientInterface),
		allowedOrigins: allowedOrigins,
		logger:         logger.Named("ws"),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Run starts the hub's message processing loop.
func (h *WebSocketHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", zap.Int("clients", count))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.getSendChannel())
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", zap.Int("clients", count))

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg.payload)
			if err != nil {
				h.logger.Error("failed to marshal websocket message", zap.Error(err))
				continue
			}

			// Full Lock because slow clients are dropped from the map.
			h.mu.Lock()
			for client := range h.clients {
				if u := client.user(); u != "" && msg.userID != "" && u != msg.userID {
					continue
				}
				sendChan := client.getSendChannel()
				select {
				case sendChan <- data:
				default:
					close(sendChan)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			h.logger.Debug("websocket hub stopping")
			return
		}
	}
}

// Stop gracefully shuts down the hub.
func (h *WebSocketHub) Stop() {
	h.cancel()

	h.mu.Lock()
	for client := range h.clients {
		close(client.getSendChannel())
		client.close()
	}
	h.clients = make(map[clientInterface]bool)
	h.mu.Unlock()
}

// Broadcast sends a message to every connected client.
func (h *WebSocketHub) Broadcast(message interface{}) {
	h.enqueue(outbound{payload: message})
}

// Publish sends a journal event to the clients watching its user.
func (h *WebSocketHub) Publish(e engine.Event) {
	h.enqueue(outbound{userID: e.UserID, payload: e})
}

func (h *WebSocketHub) enqueue(msg outbound) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("websocket broadcast channel full, dropping message")
	}
}

// Register adds a client to the hub.
func (h *WebSocketHub) Register(client clientInterface) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub.
func (h *WebSocketHub) Unregister(client clientInterface) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// originAllowed accepts requests without an Origin header, same-host
// origins and the configured extra origins.
func (h *WebSocketHub) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if strings.EqualFold(strings.TrimRight(allowed, "/"), origin) {
			return true
		}
	}
	return false
}

func (h *WebSocketHub) originPatterns() []string {
	patterns := make([]string, 0, len(h.allowedOrigins))
	for _, o := range h.allowedOrigins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return patterns
}

// ServeHTTP upgrades the request. ?user=NAME limits the stream to one user.
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.originAllowed(r) {
		http.Error(w, "Forbidden: invalid origin", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{ //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		OriginPatterns: h.originPatterns(),
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: strings.TrimSpace(r.URL.Query().Get("user")),
	}

	h.Register(client)

	go client.writePump()
	go client.readPump()
}

// writePump sends messages to the WebSocket connection.
func (c *Client) writePump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	}()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		cancel()

		if err != nil {
			c.hub.logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

// readPump drains client messages so disconnects are noticed.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	}()

	for {
		if _, _, err := c.conn.Read(c.hub.ctx); err != nil { //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
			return
		}
	}
}

// MockClient is a mock client for testing.
type MockClient struct {
	SendChan chan []byte
	UserID   string
}

func (m *MockClient) getSendChannel() chan []byte {
	return m.SendChan
}

func (m *MockClient) user() string {
	return m.UserID
}

func (m *MockClient) close() {}

var _ engine.EventSink = (*WebSocketHub)(nil)
