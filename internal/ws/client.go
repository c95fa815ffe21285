package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"OmniDesk/entity"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Authenticator validates agent tokens for WebSocket connections.
type Authenticator interface {
	AuthenticateByToken(token string) (*entity.AgentAuth, error)
}

// Client is a single WebSocket connection. Agent clients carry agentName
// and an empty visitorID; webchat visitor clients carry tenantID+visitorID.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	agentName string
	tenantID  string
	visitorID string
}

// readPump reads messages from the connection. Visitor frames are handed to
// the hub for inbound processing; agent frames are ignored for now.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("ws read error", slog.String("error", err.Error()))
			}
			break
		}
		if c.visitorID != "" {
			c.hub.handleVisitorMessage(c, message)
		}
	}
}

// writePump writes queued messages and pings to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
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

// ServeWs upgrades an agent connection. The agent authenticates with a
// token query parameter and then receives conversation event broadcasts.
func ServeWs(hub *Hub, auth Authenticator, w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	agent, err := auth.AuthenticateByToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, 256),
		agentName: agent.Name,
		tenantID:  agent.TenantID,
	}
	hub.register <- client

	go client.writePump()
	go client.readPump()
}

// ServeVisitorWs upgrades a webchat visitor connection. Visitors identify
// with tenant_id and visitor_id query parameters; a missing visitor_id gets
// a generated one so anonymous widgets still work.
func ServeVisitorWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		http.Error(w, "missing tenant_id", http.StatusBadRequest)
		return
	}
	visitorID := r.URL.Query().Get("visitor_id")
	if visitorID == "" {
		visitorID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, 256),
		tenantID:  tenantID,
		visitorID: visitorID,
	}
	hub.register <- client

	go client.writePump()
	go client.readPump()
}
