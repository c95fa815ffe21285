package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"OmniDesk/entity"
	"OmniDesk/internal/events"
	"OmniDesk/internal/lib/sl"
	"OmniDesk/internal/lib/validate"
	"OmniDesk/internal/service/routing"
)

// HandleInbound runs the full pipeline for one customer message: resolve
// the session, append the message, and route it. Replayed provider events
// are absorbed by the message dedup and change nothing.
func (c *Core) HandleInbound(ctx context.Context, event entity.InboundEvent) error {
	if err := validate.Struct(&event); err != nil {
		return fmt.Errorf("invalid inbound event: %w", err)
	}
	if !entity.KnownChannel(event.Channel) {
		return fmt.Errorf("unknown channel %q", event.Channel)
	}

	conv, created, err := c.resolver.Resolve(ctx, event.Key(), event.DisplayName)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}
	if created {
		c.broadcastConversation(conv)
		c.publish(ctx, events.KeyConversationOpened, conv, "")
	}

	_, err = c.appendInbound(ctx, conv, event)
	if errors.Is(err, entity.ErrDuplicateMessage) {
		c.log.Debug("duplicate provider message ignored",
			slog.String("conversation_id", conv.ID),
			slog.String("provider_message_id", event.ProviderMessageID),
		)
		return nil
	}
	if err != nil {
		return err
	}

	if conv.Mode == entity.ModeHuman {
		// agent-owned: store and surface only, the bot stays out
		return nil
	}

	decision := c.router.Decide(ctx, event.TenantID, event.Channel, conv, event.Text)
	if decision.Target == routing.TargetHuman {
		if _, err := c.machine.Escalate(ctx, conv.ID, "", decision.Reason); err != nil {
			return fmt.Errorf("escalate conversation: %w", err)
		}
		return nil
	}

	// field-scoped update; a full replace here can overwrite a concurrent
	// transition or the preview the append just wrote
	conv.BotAttempts++
	if err := c.repo.IncrementBotAttempts(ctx, conv.ID); err != nil {
		return fmt.Errorf("bump bot attempts: %w", err)
	}

	go c.botReply(conv, event.Text)
	return nil
}

// HandleWebchatMessage adapts hub visitor frames onto the inbound pipeline.
func (c *Core) HandleWebchatMessage(event entity.InboundEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return c.HandleInbound(ctx, event)
}

// appendInbound stores the customer message and refreshes the conversation
// preview. Duplicate provider ids surface as entity.ErrDuplicateMessage.
func (c *Core) appendInbound(ctx context.Context, conv *entity.Conversation, event entity.InboundEvent) (*entity.ChatMessage, error) {
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	msgType := entity.MessageTypeText
	if event.MediaURL != "" {
		msgType = entity.MessageTypeMedia
	}

	msg := &entity.ChatMessage{
		ConversationID:    conv.ID,
		Direction:         entity.DirectionIn,
		Sender:            entity.SenderCustomer,
		Type:              msgType,
		Text:              event.Text,
		MediaURL:          event.MediaURL,
		ProviderMessageID: event.ProviderMessageID,
		CreatedAt:         occurredAt,
	}

	stored, err := c.repo.InsertChatMessage(ctx, msg)
	if err != nil {
		if errors.Is(err, entity.ErrDuplicateMessage) {
			return nil, err
		}
		return nil, fmt.Errorf("append inbound message: %w", err)
	}

	if err := c.repo.TouchConversation(ctx, conv.ID, stored.Preview()); err != nil {
		c.log.Warn("touch conversation failed",
			slog.String("conversation_id", conv.ID), sl.Err(err))
	}
	conv.UpdatedAt = time.Now()

	c.broadcastMessage(stored)
	return stored, nil
}

// botReply composes and delivers the bot answer. Runs detached from the
// webhook request so a slow model never delays the provider ack.
func (c *Core) botReply(conv *entity.Conversation, userMsg string) {
	defer func() {
		if r := recover(); r != nil {
			c.log.With(slog.Any("panic", r)).Error("bot reply")
		}
	}()

	if c.responder == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	reply, err := c.responder.ComposeReply(ctx, conv, userMsg)
	if err != nil {
		c.log.With(
			slog.String("conversation_id", conv.ID),
			sl.Err(err),
		).Error("compose bot reply")
		return
	}
	if reply == "" {
		return
	}

	if err := c.sendOutbound(ctx, conv, entity.SenderBot, reply); err != nil {
		c.log.With(
			slog.String("conversation_id", conv.ID),
			sl.Err(err),
		).Error("store bot reply")
	}
}

// sendOutbound appends an outbound message to the transcript and hands it
// to the delivery path for the conversation's channel.
func (c *Core) sendOutbound(ctx context.Context, conv *entity.Conversation, sender, text string) error {
	msgType := entity.MessageTypeText
	if sender == entity.SenderSystem {
		msgType = entity.MessageTypeSystem
	}
	msg := &entity.ChatMessage{
		ConversationID: conv.ID,
		Direction:      entity.DirectionOut,
		Sender:         sender,
		Type:           msgType,
		Text:           text,
		CreatedAt:      time.Now(),
	}

	stored, err := c.repo.InsertChatMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("append outbound message: %w", err)
	}
	if err := c.repo.TouchConversation(ctx, conv.ID, stored.Preview()); err != nil {
		c.log.Warn("touch conversation failed",
			slog.String("conversation_id", conv.ID), sl.Err(err))
	}

	c.broadcastMessage(stored)
	c.deliver(conv, text)
	return nil
}

// deliver pushes customer-visible text out through the right transport:
// webchat goes over the hub, everything else through the channel gateway.
func (c *Core) deliver(conv *entity.Conversation, text string) {
	if conv.Channel == entity.ChannelWebchat {
		if c.hub != nil {
			c.hub.SendToVisitor(conv.TenantID, conv.PeerID, text)
		}
		return
	}
	if c.sender == nil {
		return
	}
	c.sender.Enqueue(entity.SendRequest{
		TenantID: conv.TenantID,
		Channel:  conv.Channel,
		PeerID:   conv.PeerID,
		Text:     text,
	})
}

func (c *Core) broadcastMessage(msg *entity.ChatMessage) {
	if c.hub == nil {
		return
	}
	c.hub.BroadcastMessage(msg)
}

func (c *Core) broadcastConversation(conv *entity.Conversation) {
	if c.hub == nil {
		return
	}
	c.hub.BroadcastConversation(conv)
}

func (c *Core) publish(ctx context.Context, key string, conv *entity.Conversation, reason string) {
	if c.publisher == nil {
		return
	}
	err := c.publisher.Publish(ctx, key, events.ConversationEvent{
		TenantID:        conv.TenantID,
		Channel:         conv.Channel,
		PeerID:          conv.PeerID,
		ConversationID:  conv.ID,
		Status:          conv.Status,
		Mode:            conv.Mode,
		AssignedAgentID: conv.AssignedAgentID,
		GroupID:         conv.GroupID,
		Reason:          reason,
		OccurredAt:      time.Now(),
	})
	if err != nil {
		c.log.Warn("publish event failed", slog.String("key", key), sl.Err(err))
	}
}
