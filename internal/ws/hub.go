package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"OmniDesk/entity"
)

// VisitorMessageHandler receives webchat visitor messages as inbound events.
type VisitorMessageHandler interface {
	HandleWebchatMessage(event entity.InboundEvent) error
}

// Event represents a WebSocket event sent to agent clients.
type Event struct {
	Type string      `json:"type"` // "new_message", "conversation_updated", "typing"
	Data interface{} `json:"data"`
}

// Hub maintains the set of active WebSocket clients. Agent clients receive
// conversation broadcasts; webchat visitor clients feed inbound messages
// into the engine and receive replies addressed to their visitor id.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	handler    VisitorMessageHandler
	log        *slog.Logger
}

// NewHub creates a new Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log,
	}
}

// SetHandler sets the handler for incoming visitor messages.
func (h *Hub) SetHandler(handler VisitorMessageHandler) {
	h.handler = handler
}

// Run starts the hub's event loop. Should be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				if client.visitorID != "" {
					continue // visitors only get directed frames
				}
				select {
				case client.send <- data:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastMessage sends a new_message event to all connected agent clients.
func (h *Hub) BroadcastMessage(msg *entity.ChatMessage) {
	h.broadcast <- &Event{
		Type: "new_message",
		Data: msg,
	}
}

// BroadcastConversation sends a conversation_updated event to agent clients.
func (h *Hub) BroadcastConversation(conv *entity.Conversation) {
	h.broadcast <- &Event{
		Type: "conversation_updated",
		Data: conv,
	}
}

// SendToVisitor delivers a reply frame to every connection of one webchat
// visitor. Used by the outbound path for the webchat channel.
func (h *Hub) SendToVisitor(tenantID, visitorID, text string) {
	event := Event{
		Type: "reply",
		Data: map[string]string{
			"tenant_id":  tenantID,
			"visitor_id": visitorID,
			"text":       text,
		},
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.tenantID != tenantID || client.visitorID != visitorID {
			continue
		}
		select {
		case client.send <- data:
		default:
		}
	}
}

// visitorFrame is an incoming WebSocket message from a webchat visitor.
type visitorFrame struct {
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
	Name      string `json:"name"`
}

// handleVisitorMessage parses one visitor frame and feeds it to the engine.
func (h *Hub) handleVisitorMessage(client *Client, raw []byte) {
	if h.handler == nil {
		return
	}

	var frame visitorFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.log.Warn("failed to parse visitor ws message", slog.String("error", err.Error()))
		return
	}
	if frame.Text == "" {
		return
	}

	event := entity.InboundEvent{
		TenantID:          client.tenantID,
		Channel:           entity.ChannelWebchat,
		PeerID:            client.visitorID,
		DisplayName:       frame.Name,
		Text:              frame.Text,
		ProviderMessageID: frame.MessageID,
	}
	if err := h.handler.HandleWebchatMessage(event); err != nil {
		h.log.Error("failed to handle webchat message",
			slog.String("tenant_id", client.tenantID),
			slog.String("visitor_id", client.visitorID),
			slog.String("error", err.Error()),
		)
	}
}
