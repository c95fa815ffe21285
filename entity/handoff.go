package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	ActionNote         = "note"
	ActionTakeover     = "takeover"
	ActionRelease      = "release"
	ActionTagChange    = "tag_change"
	ActionStatusChange = "status_change"
)

// Note prefixes that make the action log self-describing, so the session
// rollup stays a pure fold over the actions during replay.
const (
	CloseNotePrefix    = "closed:"
	RejectedNotePrefix = "rejected:"
)

// HandoffAction is one immutable audit fact about a conversation. For
// ownership actions the target fields carry the agent who receives the
// conversation, which may differ from the actor performing the action.
type HandoffAction struct {
	ID             string    `json:"id" bson:"_id"`
	TenantID       string    `json:"tenant_id" bson:"tenant_id"`
	ConversationID string    `json:"conversation_id" bson:"conversation_id" validate:"required"`
	ActorID        string    `json:"actor_id" bson:"actor_id" validate:"required"`
	ActorName      string    `json:"actor_name" bson:"actor_name"`
	ActorRole      string    `json:"actor_role" bson:"actor_role" validate:"required,oneof=agent supervisor admin system"`
	Type           string    `json:"type" bson:"type" validate:"required,oneof=note takeover release tag_change status_change"`
	Note           string    `json:"note" bson:"note"`
	TargetID       string    `json:"target_id,omitempty" bson:"target_id,omitempty"`
	TargetName     string    `json:"target_name,omitempty" bson:"target_name,omitempty"`
	CreatedAt      time.Time `json:"created_at" bson:"created_at"`
}

// NewHandoffAction stamps an action with an id and timestamp.
func NewHandoffAction(conversationID string, actor Actor, actionType, note string) *HandoffAction {
	return &HandoffAction{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		ActorID:        actor.ID,
		ActorName:      actor.Name,
		ActorRole:      actor.Role,
		Type:           actionType,
		Note:           note,
		CreatedAt:      time.Now(),
	}
}

// HandoffSession is the derived per-conversation rollup of handoff actions.
// It is a pure fold over the action log and can always be rebuilt from it.
type HandoffSession struct {
	ConversationID string     `json:"conversation_id" bson:"_id"`
	TenantID       string     `json:"tenant_id" bson:"tenant_id"`
	FirstAgentID   string     `json:"first_agent_id" bson:"first_agent_id"`
	FirstAgentName string     `json:"first_agent_name" bson:"first_agent_name"`
	LastAgentID    string     `json:"last_agent_id" bson:"last_agent_id"`
	LastAgentName  string     `json:"last_agent_name" bson:"last_agent_name"`
	CreatedAt      time.Time  `json:"created_at" bson:"created_at"`
	LastActionAt   time.Time  `json:"last_action_at" bson:"last_action_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty" bson:"closed_at,omitempty"`
	ClosedByID     string     `json:"closed_by_id,omitempty" bson:"closed_by_id,omitempty"`
	ClosedByName   string     `json:"closed_by_name,omitempty" bson:"closed_by_name,omitempty"`
}

// IsClose reports whether the action records a conversation close.
func (a *HandoffAction) IsClose() bool {
	return a.Type == ActionStatusChange && strings.HasPrefix(a.Note, CloseNotePrefix)
}

// IsRejected reports whether the action records a rejected attempt (an
// agent acting on a closed conversation). Rejected attempts are kept for
// accountability but never mark the session closed.
func (a *HandoffAction) IsRejected() bool {
	return strings.HasPrefix(a.Note, RejectedNotePrefix)
}

// Apply folds one action into the rollup. System-actor actions (automatic
// escalations) stay in the action log but do not shape the session, which
// summarizes human involvement. Ownership actions fold their target agent,
// so a transfer moves LastAgent to the receiving agent, not the actor.
// First-agent fields are immutable once set; ClosedAt is set once and
// never overwritten.
func (s *HandoffSession) Apply(a *HandoffAction) {
	if a.ActorRole == RoleSystem {
		return
	}
	agentID, agentName := a.ActorID, a.ActorName
	if a.TargetID != "" {
		agentID, agentName = a.TargetID, a.TargetName
	}
	closing := a.IsClose()
	if s.ConversationID == "" {
		s.ConversationID = a.ConversationID
		s.TenantID = a.TenantID
		s.FirstAgentID = agentID
		s.FirstAgentName = agentName
		s.CreatedAt = a.CreatedAt
	}
	s.LastAgentID = agentID
	s.LastAgentName = agentName
	s.LastActionAt = a.CreatedAt
	if closing && s.ClosedAt == nil {
		t := a.CreatedAt
		s.ClosedAt = &t
		s.ClosedByID = a.ActorID
		s.ClosedByName = a.ActorName
	}
}
