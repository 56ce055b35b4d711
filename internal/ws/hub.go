package ws

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/campushub/approval-api/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one connected dashboard session. Role and UID select which
// request events the hub delivers to it.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	UID  string
	Role models.UserRole
}

// Message is a routed hub payload. A message reaches clients whose role is
// in Roles or whose UID is in UIDs; an empty pair broadcasts to everyone.
type Message struct {
	Roles []models.UserRole
	UIDs  []string
	Data  []byte
}

// Hub maintains the set of active clients and routes messages to them.
type Hub struct {
	clients    map[*Client]bool
	messages   chan Message
	register   chan *Client
	unregister chan *Client
	logger     *zap.Logger

	mu      sync.Mutex
	stopped chan struct{}
}

// NewHub initializes a hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		messages:   make(chan Message, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		stopped:    make(chan struct{}),
	}
}

// Run starts the dispatch loop. It exits when Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stopped:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("websocket client connected",
				zap.String("uid", client.UID),
				zap.String("role", string(client.Role)))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case msg := <-h.messages:
			h.mu.Lock()
			for client := range h.clients {
				if !msg.matches(client) {
					continue
				}
				select {
				case client.send <- msg.Data:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop terminates the dispatch loop and disconnects all clients.
func (h *Hub) Stop() {
	select {
	case <-h.stopped:
	default:
		close(h.stopped)
	}
}

// Send routes a message to matching clients. It drops the message when the
// hub has stopped or its buffer is full.
func (h *Hub) Send(msg Message) {
	select {
	case <-h.stopped:
	case h.messages <- msg:
	default:
		h.logger.Warn("websocket hub buffer full, dropping message")
	}
}

func (m Message) matches(c *Client) bool {
	if len(m.Roles) == 0 && len(m.UIDs) == 0 {
		return true
	}
	for _, role := range m.Roles {
		if role == c.Role {
			return true
		}
	}
	for _, uid := range m.UIDs {
		if uid == c.UID {
			return true
		}
	}
	return false
}

func (c *Client) writePump() {
	defer func() {
		_ = c.conn.Close()
	}()
	for message := range c.send {
		w, err := c.conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		_, _ = w.Write(message)

		n := len(c.send)
		for i := 0; i < n; i++ {
			_, _ = w.Write([]byte{'\n'})
			_, _ = w.Write(<-c.send)
		}

		if err := w.Close(); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket read error", zap.Error(err))
			}
			break
		}
	}
}

// ServeWs upgrades an authenticated request to a websocket connection. The
// caller supplies the identity resolved by the JWT middleware.
func ServeWs(hub *Hub, c *gin.Context, identity models.Identity) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hub.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
		UID:  identity.UID,
		Role: identity.Role,
	}
	hub.register <- client

	go client.writePump()
	go client.readPump()
}
