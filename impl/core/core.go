package core

import (
	"context"
	"log/slog"
	"time"

	"OmniDesk/entity"
	"OmniDesk/internal/events"
	"OmniDesk/internal/lib/sl"
	"OmniDesk/internal/service/routing"
)

type Repository interface {
	GetConversation(ctx context.Context, id string) (*entity.Conversation, error)
	UpdateConversation(ctx context.Context, conv *entity.Conversation) error
	TouchConversation(ctx context.Context, id, lastMessage string) error
	IncrementBotAttempts(ctx context.Context, id string) error
	ListConversations(ctx context.Context, tenantID, status string, channel entity.Channel, limit, offset int) ([]entity.Conversation, error)

	InsertChatMessage(ctx context.Context, msg *entity.ChatMessage) (*entity.ChatMessage, error)
	GetChatMessages(ctx context.Context, conversationID string, limit, offset int) ([]entity.ChatMessage, error)

	GetRoutingRules(ctx context.Context, tenantID string, channel entity.Channel) (*entity.RoutingRuleSet, error)
	PutRoutingRules(ctx context.Context, rules *entity.RoutingRuleSet) error

	GetHandoffActions(ctx context.Context, conversationID string) ([]entity.HandoffAction, error)
	GetHandoffSession(ctx context.Context, conversationID string) (*entity.HandoffSession, error)
	ListHandoffSessions(ctx context.Context, tenantID string, limit, offset int) ([]entity.HandoffSession, error)
}

type SessionResolver interface {
	Resolve(ctx context.Context, key entity.PeerKey, displayName string) (*entity.Conversation, bool, error)
}

type RoutingEngine interface {
	Resolve(ctx context.Context, tenantID string, channel entity.Channel) entity.EffectiveRules
	Decide(ctx context.Context, tenantID string, channel entity.Channel, conv *entity.Conversation, text string) routing.Decision
}

type HandoffMachine interface {
	Escalate(ctx context.Context, conversationID, groupID, reason string) (*entity.Conversation, error)
	Assign(ctx context.Context, conversationID string, actor entity.Actor, agentID, agentName, groupID string) (*entity.Conversation, error)
	TransferAgent(ctx context.Context, conversationID string, actor entity.Actor, toAgentID, toAgentName string) (*entity.Conversation, error)
	TransferGroup(ctx context.Context, conversationID string, actor entity.Actor, toGroupID string) (*entity.Conversation, error)
	Close(ctx context.Context, conversationID string, actor entity.Actor, reason string) (*entity.Conversation, error)
	AddNote(ctx context.Context, conversationID string, actor entity.Actor, note string) (*entity.HandoffAction, error)
}

type Auditor interface {
	Rebuild(ctx context.Context, conversationID string) (*entity.HandoffSession, error)
}

type Sender interface {
	Enqueue(req entity.SendRequest)
}

// Responder turns a customer message into a bot answer. Optional: without
// one the bot stays silent and only routing state advances.
type Responder interface {
	ComposeReply(ctx context.Context, conv *entity.Conversation, userMsg string) (string, error)
}

type Broadcaster interface {
	BroadcastMessage(msg *entity.ChatMessage)
	BroadcastConversation(conv *entity.Conversation)
	SendToVisitor(tenantID, visitorID, text string)
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event events.ConversationEvent) error
}

// Core ties the session, routing, handoff and delivery services into the
// inbound pipeline and the agent-facing operations.
type Core struct {
	repo      Repository
	resolver  SessionResolver
	router    RoutingEngine
	machine   HandoffMachine
	auditor   Auditor
	sender    Sender
	responder Responder
	hub       Broadcaster
	publisher EventPublisher
	agents    AgentService
	timeout   time.Duration
	log       *slog.Logger
}

func New(sessionTimeout time.Duration, log *slog.Logger) *Core {
	return &Core{
		timeout: sessionTimeout,
		log:     log.With(sl.Module("core")),
	}
}

func (c *Core) SetRepository(repo Repository) {
	c.repo = repo
}

func (c *Core) SetSessionResolver(resolver SessionResolver) {
	c.resolver = resolver
}

func (c *Core) SetRoutingEngine(router RoutingEngine) {
	c.router = router
}

func (c *Core) SetHandoffMachine(machine HandoffMachine) {
	c.machine = machine
}

func (c *Core) SetAuditor(auditor Auditor) {
	c.auditor = auditor
}

func (c *Core) SetSender(sender Sender) {
	c.sender = sender
}

func (c *Core) SetResponder(responder Responder) {
	c.responder = responder
}

func (c *Core) SetBroadcaster(hub Broadcaster) {
	c.hub = hub
}

func (c *Core) SetEventPublisher(publisher EventPublisher) {
	c.publisher = publisher
}
