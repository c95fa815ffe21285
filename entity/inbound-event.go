package entity

import "time"

// InboundEvent is the canonical form of a provider webhook event, produced
// by a channel adapter before it enters the core.
type InboundEvent struct {
	TenantID          string    `json:"tenant_id" validate:"required"`
	Channel           Channel   `json:"channel" validate:"required"`
	PeerID            string    `json:"peer_id" validate:"required"`
	DisplayName       string    `json:"display_name"`
	Text              string    `json:"text"`
	MediaURL          string    `json:"media_url,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// Key returns the peer identity the event belongs to.
func (e *InboundEvent) Key() PeerKey {
	return PeerKey{TenantID: e.TenantID, Channel: e.Channel, PeerID: e.PeerID}
}

// SendRequest is a fire-and-forget outbound delivery order for the sender.
type SendRequest struct {
	TenantID string  `json:"tenant_id"`
	Channel  Channel `json:"channel"`
	PeerID   string  `json:"peer_id"`
	Text     string  `json:"text,omitempty"`
	MediaURL string  `json:"media_url,omitempty"`
}
