package core

import (
	"context"
	"fmt"
	"time"

	"OmniDesk/entity"
	"OmniDesk/internal/lib/validate"
)

// ConversationView decorates a stored conversation with the lazily-derived
// staleness flag. A stale conversation is still open in storage; the next
// customer contact will expire it.
type ConversationView struct {
	entity.Conversation
	Stale bool `json:"stale"`
}

// ListConversations returns the tenant's conversations with staleness
// computed against the continuity window.
func (c *Core) ListConversations(ctx context.Context, tenantID, status string, channel entity.Channel, limit, offset int) ([]ConversationView, error) {
	convs, err := c.repo.ListConversations(ctx, tenantID, status, channel, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	now := time.Now()
	views := make([]ConversationView, 0, len(convs))
	for _, conv := range convs {
		views = append(views, ConversationView{
			Conversation: conv,
			Stale:        conv.Stale(c.timeout, now),
		})
	}
	return views, nil
}

func (c *Core) GetConversation(ctx context.Context, id string) (*entity.Conversation, error) {
	conv, err := c.repo.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, entity.ErrConversationNotFound
	}
	return conv, nil
}

// getTenantConversation loads a conversation and hides it from other
// tenants: a foreign conversation id behaves exactly like a missing one.
func (c *Core) getTenantConversation(ctx context.Context, id, tenantID string) (*entity.Conversation, error) {
	conv, err := c.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.TenantID != tenantID {
		return nil, entity.ErrConversationNotFound
	}
	return conv, nil
}

func (c *Core) GetMessages(ctx context.Context, tenantID, conversationID string, limit, offset int) ([]entity.ChatMessage, error) {
	if _, err := c.getTenantConversation(ctx, conversationID, tenantID); err != nil {
		return nil, err
	}
	return c.repo.GetChatMessages(ctx, conversationID, limit, offset)
}

// AssignConversation gives the conversation to agentID, or to the acting
// agent when agentID is empty.
func (c *Core) AssignConversation(ctx context.Context, conversationID string, agent *entity.AgentAuth, agentID, agentName, groupID string) (*entity.Conversation, error) {
	if _, err := c.getTenantConversation(ctx, conversationID, agent.TenantID); err != nil {
		return nil, err
	}
	return c.machine.Assign(ctx, conversationID, agent.Actor(), agentID, agentName, groupID)
}

func (c *Core) TransferToAgent(ctx context.Context, conversationID string, agent *entity.AgentAuth, toAgentID, toAgentName string) (*entity.Conversation, error) {
	if _, err := c.getTenantConversation(ctx, conversationID, agent.TenantID); err != nil {
		return nil, err
	}
	return c.machine.TransferAgent(ctx, conversationID, agent.Actor(), toAgentID, toAgentName)
}

func (c *Core) TransferToGroup(ctx context.Context, conversationID string, agent *entity.AgentAuth, toGroupID string) (*entity.Conversation, error) {
	if toGroupID == "" {
		return nil, fmt.Errorf("target group required")
	}
	if _, err := c.getTenantConversation(ctx, conversationID, agent.TenantID); err != nil {
		return nil, err
	}
	return c.machine.TransferGroup(ctx, conversationID, agent.Actor(), toGroupID)
}

func (c *Core) CloseConversation(ctx context.Context, conversationID string, agent *entity.AgentAuth, reason string) (*entity.Conversation, error) {
	if reason == "" {
		reason = "resolved"
	}
	if _, err := c.getTenantConversation(ctx, conversationID, agent.TenantID); err != nil {
		return nil, err
	}
	return c.machine.Close(ctx, conversationID, agent.Actor(), reason)
}

func (c *Core) AddNote(ctx context.Context, conversationID string, agent *entity.AgentAuth, note string) (*entity.HandoffAction, error) {
	if note == "" {
		return nil, fmt.Errorf("note text required")
	}
	if _, err := c.getTenantConversation(ctx, conversationID, agent.TenantID); err != nil {
		return nil, err
	}
	return c.machine.AddNote(ctx, conversationID, agent.Actor(), note)
}

// SendAgentMessage appends an agent reply to the transcript and delivers it
// to the customer. Only the assigned agent may write.
func (c *Core) SendAgentMessage(ctx context.Context, conversationID string, agent *entity.AgentAuth, text string) error {
	if text == "" {
		return fmt.Errorf("message text required")
	}
	conv, err := c.getTenantConversation(ctx, conversationID, agent.TenantID)
	if err != nil {
		return err
	}
	if conv.IsClosed() {
		return entity.ErrConversationClosed
	}
	if conv.AssignedAgentID != agent.ID {
		return fmt.Errorf("%w: conversation not assigned to you", entity.ErrInvalidTransition)
	}
	return c.sendOutbound(ctx, conv, entity.SenderAgent, text)
}

// GetEffectiveRules resolves the rules actually applied on the channel.
func (c *Core) GetEffectiveRules(ctx context.Context, tenantID string, channel entity.Channel) entity.EffectiveRules {
	return c.router.Resolve(ctx, tenantID, channel)
}

// PutRules stores a tenant-default (empty channel) or per-channel rule set.
func (c *Core) PutRules(ctx context.Context, rules *entity.RoutingRuleSet) error {
	if err := validate.Struct(rules); err != nil {
		return fmt.Errorf("invalid rule set: %w", err)
	}
	if rules.Channel != "" && !entity.KnownChannel(rules.Channel) {
		return fmt.Errorf("unknown channel %q", rules.Channel)
	}
	return c.repo.PutRoutingRules(ctx, rules)
}

func (c *Core) ListHandoffSessions(ctx context.Context, tenantID string, limit, offset int) ([]entity.HandoffSession, error) {
	return c.repo.ListHandoffSessions(ctx, tenantID, limit, offset)
}

func (c *Core) GetHandoffActions(ctx context.Context, tenantID, conversationID string) ([]entity.HandoffAction, error) {
	if _, err := c.getTenantConversation(ctx, conversationID, tenantID); err != nil {
		return nil, err
	}
	return c.repo.GetHandoffActions(ctx, conversationID)
}

// GetHandoffSession returns the stored rollup, rebuilding it from the action
// log when the stored copy is missing.
func (c *Core) GetHandoffSession(ctx context.Context, tenantID, conversationID string) (*entity.HandoffSession, error) {
	if _, err := c.getTenantConversation(ctx, conversationID, tenantID); err != nil {
		return nil, err
	}
	session, err := c.repo.GetHandoffSession(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if session != nil {
		return session, nil
	}
	if c.auditor == nil {
		return nil, nil
	}
	return c.auditor.Rebuild(ctx, conversationID)
}
