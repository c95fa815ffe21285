package entity

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"

	SenderCustomer = "customer"
	SenderBot      = "bot"
	SenderAgent    = "agent"
	SenderSystem   = "system"

	MessageTypeText   = "text"
	MessageTypeMedia  = "media"
	MessageTypeSystem = "system-event"
)

// ChatMessage is one inbound or outbound unit within a conversation.
// Messages are immutable once appended; SequenceID gives insertion order.
type ChatMessage struct {
	ID                primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ConversationID    string             `json:"conversation_id" bson:"conversation_id" validate:"required"`
	SequenceID        int64              `json:"sequence_id" bson:"sequence_id"`
	Direction         string             `json:"direction" bson:"direction" validate:"required,oneof=in out"`
	Sender            string             `json:"sender" bson:"sender" validate:"required,oneof=customer bot agent system"`
	Type              string             `json:"type" bson:"type" validate:"required,oneof=text media system-event"`
	Text              string             `json:"text" bson:"text"`
	MediaURL          string             `json:"media_url,omitempty" bson:"media_url,omitempty"`
	ProviderMessageID string             `json:"provider_message_id,omitempty" bson:"provider_message_id,omitempty"`
	CreatedAt         time.Time          `json:"created_at" bson:"created_at"`
}

// Preview returns a short text suitable for the conversation list.
func (m *ChatMessage) Preview() string {
	if m.Type == MessageTypeMedia && m.Text == "" {
		return "[media]"
	}
	const max = 120
	if len(m.Text) > max {
		return m.Text[:max]
	}
	return m.Text
}
