// Package handoff drives conversation ownership between bot, queue and
// agents. Transitions are serialized per conversation and every applied or
// rejected transition leaves an audit action behind.
package handoff

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"OmniDesk/entity"
	"OmniDesk/internal/lib/keylock"
	"OmniDesk/internal/lib/sl"
)

// Transition kinds reported to the notifier and the event feed.
const (
	KindEscalated        = "escalated"
	KindAssigned         = "assigned"
	KindTransferredAgent = "transferred_agent"
	KindTransferredGroup = "transferred_group"
	KindClosed           = "closed"
	KindNoted            = "noted"
)

// ConversationRepository is the slice of storage the machine needs.
type ConversationRepository interface {
	GetConversation(ctx context.Context, id string) (*entity.Conversation, error)
	UpdateConversation(ctx context.Context, conv *entity.Conversation) error
}

// Recorder receives the audit action for every transition.
type Recorder interface {
	Record(ctx context.Context, action *entity.HandoffAction) error
}

// Notifier is told about applied transitions after they are durable. The
// public text is customer-visible; delivery happens outside the machine so
// a slow channel never stalls a state change.
type Notifier interface {
	TransitionApplied(conv *entity.Conversation, action *entity.HandoffAction, kind, publicText string)
}

type Machine struct {
	repo     ConversationRepository
	recorder Recorder
	notifier Notifier
	locks    *keylock.KeyLock
	log      *slog.Logger
	now      func() time.Time
}

func NewMachine(repo ConversationRepository, recorder Recorder, log *slog.Logger) *Machine {
	return &Machine{
		repo:     repo,
		recorder: recorder,
		locks:    keylock.New(),
		log:      log.With(sl.Module("handoff.machine")),
		now:      time.Now,
	}
}

// SetNotifier attaches the transition listener (optional).
func (m *Machine) SetNotifier(n Notifier) {
	m.notifier = n
}

// Escalate moves a bot-owned conversation into the human queue. Escalating
// a conversation that is already human-owned is a no-op.
func (m *Machine) Escalate(ctx context.Context, conversationID, groupID, reason string) (*entity.Conversation, error) {
	return m.transition(ctx, conversationID, entity.SystemActor(), func(conv *entity.Conversation) (*step, error) {
		if conv.Mode == entity.ModeHuman {
			return nil, nil // already queued or agent-owned
		}
		conv.Mode = entity.ModeHuman
		if groupID != "" {
			conv.GroupID = groupID
		}
		return &step{
			kind:       KindEscalated,
			actionType: entity.ActionStatusChange,
			note:       fmt.Sprintf("escalated to human queue (%s)", reason),
			publicText: "Transferring you to one of our agents, one moment please.",
		}, nil
	})
}

// Assign gives the conversation to an agent. An empty agentID assigns the
// acting agent to themselves. Re-assigning to the current owner is a no-op;
// assigning over a different owner is rejected (use TransferAgent).
func (m *Machine) Assign(ctx context.Context, conversationID string, actor entity.Actor, agentID, agentName, groupID string) (*entity.Conversation, error) {
	if agentID == "" {
		agentID = actor.ID
		agentName = actor.Name
	}
	return m.transition(ctx, conversationID, actor, func(conv *entity.Conversation) (*step, error) {
		if conv.AssignedAgentID == agentID {
			return nil, nil // double-tap from the agent UI
		}
		if conv.AssignedAgentID != "" {
			return nil, fmt.Errorf("%w: conversation already assigned", entity.ErrInvalidTransition)
		}
		now := m.now()
		conv.Mode = entity.ModeHuman
		conv.AssignedAgentID = agentID
		if groupID != "" {
			conv.GroupID = groupID
		}
		conv.AssignedAt = &now
		return &step{
			kind:       KindAssigned,
			actionType: entity.ActionTakeover,
			note:       fmt.Sprintf("assigned to %s", agentName),
			targetID:   agentID,
			targetName: agentName,
			publicText: fmt.Sprintf("%s joined the conversation.", agentName),
		}, nil
	})
}

// TransferAgent swaps ownership between agents. Valid only while an agent
// owns the conversation.
func (m *Machine) TransferAgent(ctx context.Context, conversationID string, actor entity.Actor, toAgentID, toAgentName string) (*entity.Conversation, error) {
	return m.transition(ctx, conversationID, actor, func(conv *entity.Conversation) (*step, error) {
		if conv.AssignedAgentID == "" {
			return nil, fmt.Errorf("%w: conversation has no assigned agent", entity.ErrInvalidTransition)
		}
		now := m.now()
		from := conv.AssignedAgentID
		conv.AssignedAgentID = toAgentID
		conv.LastTransferAt = &now
		return &step{
			kind:       KindTransferredAgent,
			actionType: entity.ActionTakeover,
			note:       fmt.Sprintf("transferred from %s to %s", from, toAgentName),
			targetID:   toAgentID,
			targetName: toAgentName,
			publicText: fmt.Sprintf("You are now talking to %s.", toAgentName),
		}, nil
	})
}

// TransferGroup re-queues the conversation into another group, clearing any
// agent assignment. Valid from any non-closed state.
func (m *Machine) TransferGroup(ctx context.Context, conversationID string, actor entity.Actor, toGroupID string) (*entity.Conversation, error) {
	return m.transition(ctx, conversationID, actor, func(conv *entity.Conversation) (*step, error) {
		now := m.now()
		conv.Mode = entity.ModeHuman
		conv.GroupID = toGroupID
		conv.AssignedAgentID = ""
		conv.LastTransferAt = &now
		return &step{
			kind:       KindTransferredGroup,
			actionType: entity.ActionRelease,
			note:       fmt.Sprintf("transferred to group %s", toGroupID),
			publicText: "Your conversation was forwarded to the right team.",
		}, nil
	})
}

// Close ends the conversation. Closing an already-closed conversation is a
// no-op, not an error, so webhook replays and double-taps are safe.
func (m *Machine) Close(ctx context.Context, conversationID string, actor entity.Actor, reason string) (*entity.Conversation, error) {
	lockKey := conversationID
	m.locks.Lock(lockKey)
	defer m.locks.Unlock(lockKey)

	conv, err := m.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.IsClosed() {
		return conv, nil
	}

	now := m.now()
	conv.Status = entity.StatusClosed
	conv.ClosedReason = reason
	conv.ClosedAt = &now
	conv.UpdatedAt = now

	if err := m.repo.UpdateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("close conversation: %w", err)
	}

	action := entity.NewHandoffAction(conv.ID, actor, entity.ActionStatusChange,
		fmt.Sprintf("%s %s", entity.CloseNotePrefix, reason))
	action.TenantID = conv.TenantID
	m.record(ctx, action)
	m.notify(conv, action, KindClosed, "This conversation has been closed. Talk to you soon!")

	return conv, nil
}

// AddNote records an internal agent note. Notes are audit annotations and
// remain allowed on closed conversations.
func (m *Machine) AddNote(ctx context.Context, conversationID string, actor entity.Actor, note string) (*entity.HandoffAction, error) {
	conv, err := m.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	action := entity.NewHandoffAction(conv.ID, actor, entity.ActionNote, note)
	action.TenantID = conv.TenantID
	if err := m.recorder.Record(ctx, action); err != nil {
		return nil, err
	}
	m.notify(conv, action, KindNoted, "")
	return action, nil
}

// step describes the audit and notification side of one applied transition.
// targetID names the agent receiving the conversation on ownership changes;
// the session rollup folds it instead of the actor.
type step struct {
	kind       string
	actionType string
	note       string
	targetID   string
	targetName string
	publicText string
}

// transition runs one serialized state change. A nil step from apply means
// an idempotent no-op. Closed conversations reject every transition here;
// agent-initiated attempts are still recorded as rejected for
// accountability.
func (m *Machine) transition(ctx context.Context, conversationID string, actor entity.Actor, apply func(*entity.Conversation) (*step, error)) (*entity.Conversation, error) {
	m.locks.Lock(conversationID)
	defer m.locks.Unlock(conversationID)

	conv, err := m.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if conv.IsClosed() {
		if actor.Role != entity.RoleSystem {
			rejected := entity.NewHandoffAction(conv.ID, actor, entity.ActionNote,
				fmt.Sprintf("%s attempted action on closed conversation", entity.RejectedNotePrefix))
			rejected.TenantID = conv.TenantID
			m.record(ctx, rejected)
		}
		return nil, entity.ErrConversationClosed
	}

	st, err := apply(conv)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return conv, nil
	}

	conv.UpdatedAt = m.now()
	if err := m.repo.UpdateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}

	action := entity.NewHandoffAction(conv.ID, actor, st.actionType, st.note)
	action.TenantID = conv.TenantID
	action.TargetID = st.targetID
	action.TargetName = st.targetName
	m.record(ctx, action)
	m.notify(conv, action, st.kind, st.publicText)

	return conv, nil
}

func (m *Machine) load(ctx context.Context, conversationID string) (*entity.Conversation, error) {
	conv, err := m.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		return nil, entity.ErrConversationNotFound
	}
	return conv, nil
}

func (m *Machine) record(ctx context.Context, action *entity.HandoffAction) {
	if err := m.recorder.Record(ctx, action); err != nil {
		// the state change is already durable; losing one audit write is
		// logged loudly instead of rolling the conversation back
		m.log.Error("audit record failed",
			slog.String("conversation_id", action.ConversationID),
			slog.String("type", action.Type),
			sl.Err(err),
		)
	}
}

func (m *Machine) notify(conv *entity.Conversation, action *entity.HandoffAction, kind, publicText string) {
	if m.notifier == nil {
		return
	}
	m.notifier.TransitionApplied(conv, action, kind, publicText)
}
