package core

import (
	"context"
	"log/slog"
	"time"

	"OmniDesk/entity"
	"OmniDesk/internal/events"
	"OmniDesk/internal/lib/sl"
	"OmniDesk/internal/service/handoff"
)

// TransitionApplied reacts to a durable handoff transition: it writes the
// customer-visible system line into the transcript, pushes the updated
// conversation to agent clients, and feeds the event bus. The state change
// is already committed, so everything here is best effort.
func (c *Core) TransitionApplied(conv *entity.Conversation, action *entity.HandoffAction, kind, publicText string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if publicText != "" {
		if err := c.sendOutbound(ctx, conv, entity.SenderSystem, publicText); err != nil {
			c.log.With(
				slog.String("conversation_id", conv.ID),
				slog.String("kind", kind),
				sl.Err(err),
			).Error("store transition message")
		}
	}

	c.broadcastConversation(conv)

	if key := eventKey(kind); key != "" {
		c.publish(ctx, key, conv, action.Note)
	}
}

func eventKey(kind string) string {
	switch kind {
	case handoff.KindEscalated:
		return events.KeyHandoffEscalated
	case handoff.KindAssigned:
		return events.KeyHandoffAssigned
	case handoff.KindTransferredAgent, handoff.KindTransferredGroup:
		return events.KeyHandoffTransferred
	case handoff.KindClosed:
		return events.KeyConversationClosed
	}
	return ""
}
