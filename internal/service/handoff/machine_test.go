package handoff

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OmniDesk/entity"
)

type memConvRepo struct {
	mu    sync.Mutex
	convs map[string]*entity.Conversation
}

func newMemConvRepo(convs ...*entity.Conversation) *memConvRepo {
	r := &memConvRepo{convs: make(map[string]*entity.Conversation)}
	for _, c := range convs {
		cp := *c
		r.convs[c.ID] = &cp
	}
	return r
}

func (r *memConvRepo) GetConversation(_ context.Context, id string) (*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *memConvRepo) UpdateConversation(_ context.Context, conv *entity.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.convs[conv.ID]; !ok {
		return entity.ErrConversationNotFound
	}
	cp := *conv
	r.convs[conv.ID] = &cp
	return nil
}

type memRecorder struct {
	mu      sync.Mutex
	actions []entity.HandoffAction
}

func (r *memRecorder) Record(_ context.Context, a *entity.HandoffAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, *a)
	return nil
}

func (r *memRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actions)
}

type memNotifier struct {
	mu    sync.Mutex
	kinds []string
}

func (n *memNotifier) TransitionApplied(_ *entity.Conversation, _ *entity.HandoffAction, kind, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
}

func botOwned() *entity.Conversation {
	return entity.NewConversation(entity.PeerKey{
		TenantID: "t1", Channel: entity.ChannelWebchat, PeerID: "visitor-1",
	}, "Maria")
}

func agentActor(id string) entity.Actor {
	return entity.Actor{ID: id, Name: "Agent " + id, Role: entity.RoleAgent}
}

func setup(convs ...*entity.Conversation) (*Machine, *memConvRepo, *memRecorder, *memNotifier) {
	repo := newMemConvRepo(convs...)
	rec := &memRecorder{}
	m := NewMachine(repo, rec, slog.Default())
	n := &memNotifier{}
	m.SetNotifier(n)
	return m, repo, rec, n
}

func TestEscalateBotOwnedToQueued(t *testing.T) {
	conv := botOwned()
	m, _, rec, n := setup(conv)

	got, err := m.Escalate(context.Background(), conv.ID, "g1", "keyword_detected")
	require.NoError(t, err)

	assert.Equal(t, entity.ModeHuman, got.Mode)
	assert.Empty(t, got.AssignedAgentID)
	assert.Equal(t, "g1", got.GroupID)
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, []string{KindEscalated}, n.kinds)
}

func TestEscalateAlreadyHumanIsNoop(t *testing.T) {
	conv := botOwned()
	conv.Mode = entity.ModeHuman
	m, _, rec, _ := setup(conv)

	_, err := m.Escalate(context.Background(), conv.ID, "", "max_bot_attempts_reached")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.count())
}

func TestAssignDefaultsToActor(t *testing.T) {
	conv := botOwned()
	m, _, rec, _ := setup(conv)

	got, err := m.Assign(context.Background(), conv.ID, agentActor("A"), "", "", "")
	require.NoError(t, err)

	assert.Equal(t, "A", got.AssignedAgentID)
	assert.Equal(t, entity.ModeHuman, got.Mode)
	require.NotNil(t, got.AssignedAt)
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, entity.ActionTakeover, rec.actions[0].Type)
}

func TestAssignDoubleTapIsNoop(t *testing.T) {
	conv := botOwned()
	m, _, rec, _ := setup(conv)

	_, err := m.Assign(context.Background(), conv.ID, agentActor("A"), "", "", "")
	require.NoError(t, err)
	_, err = m.Assign(context.Background(), conv.ID, agentActor("A"), "", "", "")
	require.NoError(t, err)

	assert.Equal(t, 1, rec.count())
}

func TestAssignOverDifferentOwnerRejected(t *testing.T) {
	conv := botOwned()
	m, _, _, _ := setup(conv)

	_, err := m.Assign(context.Background(), conv.ID, agentActor("A"), "", "", "")
	require.NoError(t, err)

	_, err = m.Assign(context.Background(), conv.ID, agentActor("B"), "", "", "")
	assert.ErrorIs(t, err, entity.ErrInvalidTransition)
}

func TestTransferAgentSwapsOwnership(t *testing.T) {
	conv := botOwned()
	m, _, rec, _ := setup(conv)

	_, err := m.Assign(context.Background(), conv.ID, agentActor("A"), "", "", "")
	require.NoError(t, err)

	got, err := m.TransferAgent(context.Background(), conv.ID, agentActor("A"), "B", "Agent B")
	require.NoError(t, err)

	assert.Equal(t, "B", got.AssignedAgentID)
	require.NotNil(t, got.LastTransferAt)
	assert.Equal(t, 2, rec.count())

	// the action names the receiving agent for the session rollup
	assert.Equal(t, "B", rec.actions[1].TargetID)
	assert.Equal(t, "Agent B", rec.actions[1].TargetName)
	assert.Equal(t, "t1", rec.actions[1].TenantID)
}

func TestTransferAgentWithoutOwnerRejected(t *testing.T) {
	conv := botOwned()
	m, _, _, _ := setup(conv)

	_, err := m.TransferAgent(context.Background(), conv.ID, agentActor("A"), "B", "Agent B")
	assert.ErrorIs(t, err, entity.ErrInvalidTransition)
}

func TestTransferGroupRequeuesAndClearsAgent(t *testing.T) {
	conv := botOwned()
	m, _, _, n := setup(conv)

	_, err := m.Assign(context.Background(), conv.ID, agentActor("A"), "", "", "g1")
	require.NoError(t, err)

	got, err := m.TransferGroup(context.Background(), conv.ID, agentActor("A"), "g2")
	require.NoError(t, err)

	assert.Equal(t, "g2", got.GroupID)
	assert.Empty(t, got.AssignedAgentID)
	assert.Equal(t, entity.ModeHuman, got.Mode)
	assert.Equal(t, []string{KindAssigned, KindTransferredGroup}, n.kinds)
}

func TestTransferGroupFromBotOwnedAllowed(t *testing.T) {
	conv := botOwned()
	m, _, _, _ := setup(conv)

	got, err := m.TransferGroup(context.Background(), conv.ID, agentActor("A"), "g2")
	require.NoError(t, err)
	assert.Equal(t, entity.ModeHuman, got.Mode)
	assert.Equal(t, "g2", got.GroupID)
}

func TestCloseIsIdempotent(t *testing.T) {
	conv := botOwned()
	m, repo, rec, _ := setup(conv)

	first, err := m.Close(context.Background(), conv.ID, agentActor("B"), "resolved")
	require.NoError(t, err)
	require.NotNil(t, first.ClosedAt)
	closedAt := *first.ClosedAt

	second, err := m.Close(context.Background(), conv.ID, agentActor("B"), "resolved")
	require.NoError(t, err)

	assert.Equal(t, closedAt, *second.ClosedAt)
	assert.Equal(t, 1, rec.count(), "re-close must not duplicate the action")

	stored := repo.convs[conv.ID]
	assert.Equal(t, entity.StatusClosed, stored.Status)
	assert.Equal(t, "resolved", stored.ClosedReason)
}

func TestTransitionsOnClosedRejectedAndAudited(t *testing.T) {
	conv := botOwned()
	m, repo, rec, _ := setup(conv)

	_, err := m.Close(context.Background(), conv.ID, agentActor("A"), "resolved")
	require.NoError(t, err)
	before := rec.count()

	_, err = m.Assign(context.Background(), conv.ID, agentActor("B"), "", "", "")
	assert.ErrorIs(t, err, entity.ErrConversationClosed)

	_, err = m.TransferGroup(context.Background(), conv.ID, agentActor("B"), "g2")
	assert.ErrorIs(t, err, entity.ErrConversationClosed)

	// both rejected attempts were still audited
	assert.Equal(t, before+2, rec.count())
	last := rec.actions[len(rec.actions)-1]
	assert.True(t, last.IsRejected())

	// and the conversation never reopened
	assert.Equal(t, entity.StatusClosed, repo.convs[conv.ID].Status)
}

func TestAddNoteAllowedOnClosedConversation(t *testing.T) {
	conv := botOwned()
	m, _, rec, _ := setup(conv)

	_, err := m.Close(context.Background(), conv.ID, agentActor("A"), "resolved")
	require.NoError(t, err)

	action, err := m.AddNote(context.Background(), conv.ID, agentActor("A"), "customer will call back")
	require.NoError(t, err)
	assert.Equal(t, entity.ActionNote, action.Type)
	assert.Equal(t, 2, rec.count())
}

func TestUnknownConversation(t *testing.T) {
	m, _, _, _ := setup()

	_, err := m.Close(context.Background(), "missing", agentActor("A"), "resolved")
	assert.ErrorIs(t, err, entity.ErrConversationNotFound)
}

func TestConcurrentTransferAndCloseStayConsistent(t *testing.T) {
	conv := botOwned()
	m, repo, _, _ := setup(conv)

	_, err := m.Assign(context.Background(), conv.ID, agentActor("A"), "", "", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = m.TransferAgent(context.Background(), conv.ID, agentActor("A"), "B", "Agent B")
	}()
	go func() {
		defer wg.Done()
		_, _ = m.Close(context.Background(), conv.ID, agentActor("A"), "resolved")
	}()
	wg.Wait()

	stored := repo.convs[conv.ID]
	// whatever order won, a closed conversation never has a dangling open state
	if stored.Status == entity.StatusClosed {
		assert.NotNil(t, stored.ClosedAt)
	} else {
		assert.Equal(t, "B", stored.AssignedAgentID)
	}
}
