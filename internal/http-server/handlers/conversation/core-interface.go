package conversation

import (
	"context"

	"OmniDesk/entity"
	"OmniDesk/impl/core"
)

type Core interface {
	ListConversations(ctx context.Context, tenantID, status string, channel entity.Channel, limit, offset int) ([]core.ConversationView, error)
	GetConversation(ctx context.Context, id string) (*entity.Conversation, error)
	GetMessages(ctx context.Context, tenantID, conversationID string, limit, offset int) ([]entity.ChatMessage, error)

	AssignConversation(ctx context.Context, conversationID string, agent *entity.AgentAuth, agentID, agentName, groupID string) (*entity.Conversation, error)
	TransferToAgent(ctx context.Context, conversationID string, agent *entity.AgentAuth, toAgentID, toAgentName string) (*entity.Conversation, error)
	TransferToGroup(ctx context.Context, conversationID string, agent *entity.AgentAuth, toGroupID string) (*entity.Conversation, error)
	CloseConversation(ctx context.Context, conversationID string, agent *entity.AgentAuth, reason string) (*entity.Conversation, error)
	AddNote(ctx context.Context, conversationID string, agent *entity.AgentAuth, note string) (*entity.HandoffAction, error)
	SendAgentMessage(ctx context.Context, conversationID string, agent *entity.AgentAuth, text string) error
}
