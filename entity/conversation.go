package entity

import (
	"time"

	"github.com/google/uuid"
)

// Channel identifies the messaging transport a peer talks through.
type Channel string

const (
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelWebchat   Channel = "webchat"
	ChannelMessenger Channel = "messenger"
	ChannelInstagram Channel = "instagram"
)

// KnownChannel reports whether the channel is one the engine serves.
func KnownChannel(c Channel) bool {
	switch c {
	case ChannelWhatsApp, ChannelWebchat, ChannelMessenger, ChannelInstagram:
		return true
	}
	return false
}

// PeerKey identifies one customer on one channel of one tenant. At most one
// open conversation exists per key.
type PeerKey struct {
	TenantID string  `json:"tenant_id" validate:"required"`
	Channel  Channel `json:"channel" validate:"required"`
	PeerID   string  `json:"peer_id" validate:"required"`
}

const (
	StatusOpen   = "open"
	StatusClosed = "closed"

	ModeBot   = "bot"
	ModeHuman = "human"
)

// ClosedReasonTimeout marks conversations closed by the continuity window.
const ClosedReasonTimeout = "timeout_24h"

// Conversation is one session between a peer and the tenant, from first
// contact until close. Closed conversations are immutable history; a new
// contact after close always opens a fresh one.
type Conversation struct {
	ID              string     `json:"id" bson:"_id"`
	TenantID        string     `json:"tenant_id" bson:"tenant_id" validate:"required"`
	Channel         Channel    `json:"channel" bson:"channel" validate:"required"`
	PeerID          string     `json:"peer_id" bson:"peer_id" validate:"required"`
	PeerName        string     `json:"peer_name,omitempty" bson:"peer_name,omitempty"`
	Status          string     `json:"status" bson:"status"`
	Mode            string     `json:"mode" bson:"mode"`
	BotAttempts     int        `json:"bot_attempts" bson:"bot_attempts"`
	AssignedAgentID string     `json:"assigned_agent_id,omitempty" bson:"assigned_agent_id,omitempty"`
	GroupID         string     `json:"group_id,omitempty" bson:"group_id,omitempty"`
	AutoClosed      bool       `json:"auto_closed,omitempty" bson:"auto_closed,omitempty"`
	ClosedReason    string     `json:"closed_reason,omitempty" bson:"closed_reason,omitempty"`
	Tags            []string   `json:"tags,omitempty" bson:"tags,omitempty"`
	Notes           []string   `json:"notes,omitempty" bson:"notes,omitempty"`
	LastMessage     string     `json:"last_message,omitempty" bson:"last_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" bson:"updated_at"`
	AssignedAt      *time.Time `json:"assigned_at,omitempty" bson:"assigned_at,omitempty"`
	LastTransferAt  *time.Time `json:"last_transfer_at,omitempty" bson:"last_transfer_at,omitempty"`
	ClosedAt        *time.Time `json:"closed_at,omitempty" bson:"closed_at,omitempty"`
}

// NewConversation opens a fresh bot-owned conversation for a peer.
func NewConversation(key PeerKey, peerName string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        uuid.NewString(),
		TenantID:  key.TenantID,
		Channel:   key.Channel,
		PeerID:    key.PeerID,
		PeerName:  peerName,
		Status:    StatusOpen,
		Mode:      ModeBot,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Key returns the peer identity of the conversation.
func (c *Conversation) Key() PeerKey {
	return PeerKey{TenantID: c.TenantID, Channel: c.Channel, PeerID: c.PeerID}
}

func (c *Conversation) IsOpen() bool {
	return c.Status == StatusOpen
}

func (c *Conversation) IsClosed() bool {
	return c.Status == StatusClosed
}

// Stale reports whether the conversation outlived the continuity window
// relative to its last activity. Stale conversations are still stored as
// open; the next contact lazily expires them.
func (c *Conversation) Stale(timeout time.Duration, now time.Time) bool {
	if !c.IsOpen() || timeout <= 0 {
		return false
	}
	return now.Sub(c.UpdatedAt) > timeout
}
