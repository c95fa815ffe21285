// Package events feeds conversation-lifecycle facts to reporting over
// RabbitMQ. Publishing is one-way: nothing in the engine reads these back.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"OmniDesk/entity"
	"OmniDesk/internal/config"
	"OmniDesk/internal/lib/sl"
)

// Routing keys on the topic exchange.
const (
	KeyConversationOpened = "conversation.opened.v1"
	KeyConversationClosed = "conversation.closed.v1"
	KeyHandoffEscalated   = "handoff.escalated.v1"
	KeyHandoffAssigned    = "handoff.assigned.v1"
	KeyHandoffTransferred = "handoff.transferred.v1"
)

const producer = "omnidesk"

type Meta struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// ConversationEvent is the payload for every lifecycle key.
type ConversationEvent struct {
	TenantID        string         `json:"tenant_id"`
	Channel         entity.Channel `json:"channel"`
	PeerID          string         `json:"peer_id"`
	ConversationID  string         `json:"conversation_id"`
	Status          string         `json:"status"`
	Mode            string         `json:"mode"`
	AssignedAgentID string         `json:"assigned_agent_id,omitempty"`
	GroupID         string         `json:"group_id,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	OccurredAt      time.Time      `json:"occurred_at"`
}

type Publisher struct {
	conn     *amqp091.Connection
	exchange string
	log      *slog.Logger
}

// NewPublisher connects and declares the topic exchange. Returns nil when
// the feed is disabled; callers treat a nil publisher as "skip events".
func NewPublisher(conf *config.Config, logger *slog.Logger) (*Publisher, error) {
	if !conf.Rabbit.Enabled {
		return nil, nil
	}

	conn, err := amqp091.Dial(conf.Rabbit.Url)
	if err != nil {
		return nil, fmt.Errorf("rabbit dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbit channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		conf.Rabbit.Exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbit exchange declare: %w", err)
	}

	return &Publisher{
		conn:     conn,
		exchange: conf.Rabbit.Exchange,
		log:      logger.With(sl.Module("events.publisher")),
	}, nil
}

// Publish sends one envelope under the given routing key and waits for the
// broker confirm, so a dropped event surfaces as an error to the caller.
func (p *Publisher) Publish(ctx context.Context, key string, event ConversationEvent) error {
	if p == nil {
		return nil
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbit channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("rabbit confirm mode: %w", err)
	}

	env := Envelope{
		Meta: Meta{
			ID:            uuid.NewString(),
			CorrelationID: event.ConversationID,
			Producer:      producer,
			Time:          time.Now(),
			Type:          key,
		},
		Data: event,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(
		ctx, p.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     env.Meta.ID,
			CorrelationId: env.Meta.CorrelationID,
			Timestamp:     env.Meta.Time,
			Body:          body,
		},
	)
	if err != nil {
		return fmt.Errorf("rabbit publish: %w", err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("rabbit confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("rabbit publish nacked: %s", key)
	}

	p.log.Debug("published", slog.String("key", key), slog.String("exchange", p.exchange))
	return nil
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.conn.Close()
}
