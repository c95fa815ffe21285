package core

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OmniDesk/entity"
	"OmniDesk/internal/service/audit"
	"OmniDesk/internal/service/handoff"
	"OmniDesk/internal/service/routing"
	"OmniDesk/internal/service/session"
)

// memStore backs every service interface with one in-memory dataset so the
// tests exercise the real resolver, router, recorder and machine end to end.
type memStore struct {
	mu       sync.Mutex
	convs    map[string]entity.Conversation
	messages []entity.ChatMessage
	seq      map[string]int64
	rules    map[string]entity.RoutingRuleSet
	actions  []entity.HandoffAction
	sessions map[string]entity.HandoffSession
}

func newMemStore() *memStore {
	return &memStore{
		convs:    make(map[string]entity.Conversation),
		seq:      make(map[string]int64),
		rules:    make(map[string]entity.RoutingRuleSet),
		sessions: make(map[string]entity.HandoffSession),
	}
}

func (s *memStore) GetConversation(_ context.Context, id string) (*entity.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, nil
	}
	return &conv, nil
}

func (s *memStore) GetLatestConversation(_ context.Context, key entity.PeerKey) (*entity.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *entity.Conversation
	for _, conv := range s.convs {
		if conv.Key() != key {
			continue
		}
		c := conv
		if latest == nil || c.UpdatedAt.After(latest.UpdatedAt) {
			latest = &c
		}
	}
	return latest, nil
}

func (s *memStore) InsertConversation(_ context.Context, conv *entity.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.convs {
		if existing.Key() == conv.Key() && existing.IsOpen() {
			return entity.ErrOpenConversationExists
		}
	}
	s.convs[conv.ID] = *conv
	return nil
}

func (s *memStore) UpdateConversation(_ context.Context, conv *entity.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[conv.ID]; !ok {
		return entity.ErrConversationNotFound
	}
	s.convs[conv.ID] = *conv
	return nil
}

func (s *memStore) IncrementBotAttempts(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return entity.ErrConversationNotFound
	}
	conv.BotAttempts++
	conv.UpdatedAt = time.Now()
	s.convs[id] = conv
	return nil
}

func (s *memStore) TouchConversation(_ context.Context, id, lastMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return entity.ErrConversationNotFound
	}
	conv.LastMessage = lastMessage
	conv.UpdatedAt = time.Now()
	s.convs[id] = conv
	return nil
}

func (s *memStore) ListConversations(_ context.Context, tenantID, status string, channel entity.Channel, _, _ int) ([]entity.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.Conversation
	for _, conv := range s.convs {
		if conv.TenantID != tenantID {
			continue
		}
		if status != "" && conv.Status != status {
			continue
		}
		if channel != "" && conv.Channel != channel {
			continue
		}
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *memStore) InsertChatMessage(_ context.Context, msg *entity.ChatMessage) (*entity.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ProviderMessageID != "" {
		for _, m := range s.messages {
			if m.ConversationID == msg.ConversationID && m.ProviderMessageID == msg.ProviderMessageID {
				return nil, entity.ErrDuplicateMessage
			}
		}
	}
	s.seq[msg.ConversationID]++
	stored := *msg
	stored.SequenceID = s.seq[msg.ConversationID]
	s.messages = append(s.messages, stored)
	return &stored, nil
}

func (s *memStore) GetChatMessages(_ context.Context, conversationID string, _, _ int) ([]entity.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.ChatMessage
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceID < out[j].SequenceID })
	return out, nil
}

func (s *memStore) GetRecentChatMessages(_ context.Context, conversationID string, limit int) ([]entity.ChatMessage, error) {
	msgs, _ := s.GetChatMessages(context.Background(), conversationID, 0, 0)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].SequenceID > msgs[j].SequenceID })
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func ruleKey(tenantID string, channel entity.Channel) string {
	return tenantID + "|" + string(channel)
}

func (s *memStore) GetRoutingRules(_ context.Context, tenantID string, channel entity.Channel) (*entity.RoutingRuleSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rules, ok := s.rules[ruleKey(tenantID, channel)]
	if !ok {
		return nil, nil
	}
	return &rules, nil
}

func (s *memStore) PutRoutingRules(_ context.Context, rules *entity.RoutingRuleSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[ruleKey(rules.TenantID, rules.Channel)] = *rules
	return nil
}

func (s *memStore) InsertHandoffAction(_ context.Context, action *entity.HandoffAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, *action)
	return nil
}

func (s *memStore) GetHandoffActions(_ context.Context, conversationID string) ([]entity.HandoffAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.HandoffAction
	for _, a := range s.actions {
		if a.ConversationID == conversationID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) GetHandoffSession(_ context.Context, conversationID string) (*entity.HandoffSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[conversationID]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (s *memStore) UpsertHandoffSession(_ context.Context, session *entity.HandoffSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ConversationID] = *session
	return nil
}

func (s *memStore) ListHandoffSessions(_ context.Context, tenantID string, _, _ int) ([]entity.HandoffSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.HandoffSession
	for _, sess := range s.sessions {
		if sess.TenantID == tenantID {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *memStore) UpsertContact(_ context.Context, _ entity.Contact) error {
	return nil
}

func (s *memStore) messageCount(conversationID string) int {
	msgs, _ := s.GetChatMessages(context.Background(), conversationID, 0, 0)
	return len(msgs)
}

type memSender struct {
	mu   sync.Mutex
	sent []entity.SendRequest
}

func (s *memSender) Enqueue(req entity.SendRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, req)
}

type memHub struct {
	mu            sync.Mutex
	visitorTexts  []string
	conversations int
	messageEvents int
}

func (h *memHub) BroadcastMessage(_ *entity.ChatMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messageEvents++
}

func (h *memHub) BroadcastConversation(_ *entity.Conversation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conversations++
}

func (h *memHub) SendToVisitor(_, _, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.visitorTexts = append(h.visitorTexts, text)
}

type testEnv struct {
	store  *memStore
	core   *Core
	sender *memSender
	hub    *memHub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newMemStore()

	defaults := entity.EffectiveRules{
		Enabled:          true,
		MaxBotAttempts:   3,
		TransferKeywords: []string{"atendente", "humano", "quero falar com atendente"},
	}

	resolver := session.NewResolver(store, store, 24*time.Hour, log)
	engine := routing.NewEngine(store, defaults, log)
	recorder := audit.NewRecorder(store, log)
	machine := handoff.NewMachine(store, recorder, log)

	sender := &memSender{}
	hub := &memHub{}

	c := New(24*time.Hour, log)
	c.SetRepository(store)
	c.SetSessionResolver(resolver)
	c.SetRoutingEngine(engine)
	c.SetHandoffMachine(machine)
	c.SetAuditor(recorder)
	c.SetSender(sender)
	c.SetBroadcaster(hub)
	machine.SetNotifier(c)

	return &testEnv{store: store, core: c, sender: sender, hub: hub}
}

func (e *testEnv) inbound(t *testing.T, channel entity.Channel, peerID, text, providerID string) *entity.Conversation {
	t.Helper()
	err := e.core.HandleInbound(context.Background(), entity.InboundEvent{
		TenantID:          "acme",
		Channel:           channel,
		PeerID:            peerID,
		DisplayName:       "Maria",
		Text:              text,
		ProviderMessageID: providerID,
	})
	require.NoError(t, err)

	conv, err := e.store.GetLatestConversation(context.Background(), entity.PeerKey{
		TenantID: "acme", Channel: channel, PeerID: peerID,
	})
	require.NoError(t, err)
	require.NotNil(t, conv)
	return conv
}

func agentAuth(id, name string) *entity.AgentAuth {
	return &entity.AgentAuth{ID: id, TenantID: "acme", Name: name, Role: entity.RoleAgent}
}

func TestFirstContactCreatesBotConversation(t *testing.T) {
	e := newTestEnv(t)

	conv := e.inbound(t, entity.ChannelWebchat, "visitor-1", "oi", "wc-1")

	assert.Equal(t, entity.StatusOpen, conv.Status)
	assert.Equal(t, entity.ModeBot, conv.Mode)
	assert.Equal(t, 1, conv.BotAttempts)
	assert.Equal(t, 1, e.store.messageCount(conv.ID))
}

func TestKeywordEscalatesToHumanQueue(t *testing.T) {
	e := newTestEnv(t)

	conv := e.inbound(t, entity.ChannelWebchat, "visitor-1", "oi", "wc-1")
	conv = e.inbound(t, entity.ChannelWebchat, "visitor-1", "quero falar com atendente", "wc-2")

	assert.Equal(t, entity.ModeHuman, conv.Mode)
	assert.Empty(t, conv.AssignedAgentID)

	actions, err := e.store.GetHandoffActions(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, entity.RoleSystem, actions[0].ActorRole)

	// system escalation alone never opens a session rollup
	sess, err := e.store.GetHandoffSession(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Nil(t, sess)

	// the customer got the transfer notice over the webchat hub
	assert.NotEmpty(t, e.hub.visitorTexts)
}

func TestAssignTransferCloseLifecycle(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	conv := e.inbound(t, entity.ChannelWhatsApp, "5511999", "quero falar com atendente", "wa-1")
	require.Equal(t, entity.ModeHuman, conv.Mode)

	// agent A takes the conversation without naming an agent id
	agentA := agentAuth("agent-a", "Alice")
	conv2, err := e.core.AssignConversation(ctx, conv.ID, agentA, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, "agent-a", conv2.AssignedAgentID)
	require.NotNil(t, conv2.AssignedAt)

	sess, err := e.core.GetHandoffSession(ctx, "acme", conv.ID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "agent-a", sess.FirstAgentID)

	// transfer to agent B keeps the first agent immutable
	conv3, err := e.core.TransferToAgent(ctx, conv.ID, agentA, "agent-b", "Bob")
	require.NoError(t, err)
	assert.Equal(t, "agent-b", conv3.AssignedAgentID)
	assert.NotNil(t, conv3.LastTransferAt)

	sess, err = e.core.GetHandoffSession(ctx, "acme", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "agent-a", sess.FirstAgentID)
	assert.Equal(t, "agent-b", sess.LastAgentID)

	// double close: second call is a no-op, same closedAt, no extra action
	agentB := agentAuth("agent-b", "Bob")
	closed1, err := e.core.CloseConversation(ctx, conv.ID, agentB, "resolved")
	require.NoError(t, err)
	require.NotNil(t, closed1.ClosedAt)
	firstClosedAt := *closed1.ClosedAt

	actionsBefore, _ := e.store.GetHandoffActions(ctx, conv.ID)

	closed2, err := e.core.CloseConversation(ctx, conv.ID, agentB, "resolved")
	require.NoError(t, err)
	assert.Equal(t, firstClosedAt, *closed2.ClosedAt)

	actionsAfter, _ := e.store.GetHandoffActions(ctx, conv.ID)
	assert.Len(t, actionsAfter, len(actionsBefore))

	sess, err = e.core.GetHandoffSession(ctx, "acme", conv.ID)
	require.NoError(t, err)
	require.NotNil(t, sess.ClosedAt)
	assert.Equal(t, "agent-b", sess.ClosedByID)
}

func TestDuplicateWebhookIsNoOp(t *testing.T) {
	e := newTestEnv(t)

	conv := e.inbound(t, entity.ChannelWhatsApp, "5511999", "oi", "wa-1")
	require.Equal(t, 1, e.store.messageCount(conv.ID))
	attempts := conv.BotAttempts

	// provider redelivers the same event 30 seconds later
	conv = e.inbound(t, entity.ChannelWhatsApp, "5511999", "oi", "wa-1")
	assert.Equal(t, 1, e.store.messageCount(conv.ID))
	assert.Equal(t, attempts, conv.BotAttempts)
}

func TestHumanModeSkipsRouting(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	conv := e.inbound(t, entity.ChannelWhatsApp, "5511999", "humano", "wa-1")
	require.Equal(t, entity.ModeHuman, conv.Mode)
	_, err := e.core.AssignConversation(ctx, conv.ID, agentAuth("agent-a", "Alice"), "", "", "")
	require.NoError(t, err)

	before := conv.BotAttempts
	conv = e.inbound(t, entity.ChannelWhatsApp, "5511999", "meu pedido sumiu", "wa-2")

	assert.Equal(t, entity.ModeHuman, conv.Mode)
	assert.Equal(t, "agent-a", conv.AssignedAgentID)
	assert.Equal(t, before, conv.BotAttempts)
}

func TestMaxAttemptsEscalates(t *testing.T) {
	e := newTestEnv(t)

	conv := e.inbound(t, entity.ChannelWhatsApp, "5511999", "oi", "wa-1")
	conv = e.inbound(t, entity.ChannelWhatsApp, "5511999", "preciso de ajuda", "wa-2")
	conv = e.inbound(t, entity.ChannelWhatsApp, "5511999", "ainda nada", "wa-3")
	require.Equal(t, entity.ModeBot, conv.Mode)
	require.Equal(t, 3, conv.BotAttempts)

	// fourth message exhausts the attempt budget
	conv = e.inbound(t, entity.ChannelWhatsApp, "5511999", "de novo", "wa-4")
	assert.Equal(t, entity.ModeHuman, conv.Mode)
}

func TestTimeoutRollsOverToFreshConversation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	old := e.inbound(t, entity.ChannelWhatsApp, "5511999", "oi", "wa-1")

	// age the conversation past the continuity window
	e.store.mu.Lock()
	aged := e.store.convs[old.ID]
	aged.UpdatedAt = time.Now().Add(-25 * time.Hour)
	e.store.convs[old.ID] = aged
	e.store.mu.Unlock()

	fresh := e.inbound(t, entity.ChannelWhatsApp, "5511999", "oi de novo", "wa-2")

	assert.NotEqual(t, old.ID, fresh.ID)
	assert.Equal(t, entity.StatusOpen, fresh.Status)
	assert.Equal(t, 1, fresh.BotAttempts)

	expired, err := e.store.GetConversation(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusClosed, expired.Status)
	assert.True(t, expired.AutoClosed)
	assert.Equal(t, entity.ClosedReasonTimeout, expired.ClosedReason)
}

func TestContactAfterCloseOpensNewConversation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	first := e.inbound(t, entity.ChannelWebchat, "visitor-1", "oi", "wc-1")
	_, err := e.core.CloseConversation(ctx, first.ID, agentAuth("agent-a", "Alice"), "resolved")
	require.NoError(t, err)

	second := e.inbound(t, entity.ChannelWebchat, "visitor-1", "voltei", "wc-2")

	assert.NotEqual(t, first.ID, second.ID)
	closed, err := e.store.GetConversation(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusClosed, closed.Status)
}

func TestActionOnClosedIsRejectedButAudited(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	conv := e.inbound(t, entity.ChannelWhatsApp, "5511999", "oi", "wa-1")
	_, err := e.core.CloseConversation(ctx, conv.ID, agentAuth("agent-a", "Alice"), "resolved")
	require.NoError(t, err)

	_, err = e.core.AssignConversation(ctx, conv.ID, agentAuth("agent-b", "Bob"), "", "", "")
	assert.ErrorIs(t, err, entity.ErrConversationClosed)

	actions, err := e.store.GetHandoffActions(ctx, conv.ID)
	require.NoError(t, err)
	var rejected int
	for i := range actions {
		if actions[i].IsRejected() {
			rejected++
		}
	}
	assert.Equal(t, 1, rejected)
}

func TestAgentMessageRequiresOwnership(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	conv := e.inbound(t, entity.ChannelWhatsApp, "5511999", "humano", "wa-1")
	agentA := agentAuth("agent-a", "Alice")
	_, err := e.core.AssignConversation(ctx, conv.ID, agentA, "", "", "")
	require.NoError(t, err)

	err = e.core.SendAgentMessage(ctx, conv.ID, agentAuth("agent-b", "Bob"), "posso ajudar?")
	assert.ErrorIs(t, err, entity.ErrInvalidTransition)

	err = e.core.SendAgentMessage(ctx, conv.ID, agentA, "posso ajudar?")
	require.NoError(t, err)
	assert.NotEmpty(t, e.sender.sent)
	assert.Equal(t, "posso ajudar?", e.sender.sent[len(e.sender.sent)-1].Text)
}

func TestChannelRuleOverrideDisablesBot(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	disabled := false
	err := e.core.PutRules(ctx, &entity.RoutingRuleSet{
		TenantID: "acme",
		Channel:  entity.ChannelWhatsApp,
		Enabled:  &disabled,
	})
	require.NoError(t, err)

	conv := e.inbound(t, entity.ChannelWhatsApp, "5511999", "oi", "wa-1")
	assert.Equal(t, entity.ModeHuman, conv.Mode)

	// webchat keeps the tenant defaults
	other := e.inbound(t, entity.ChannelWebchat, "visitor-1", "oi", "wc-1")
	assert.Equal(t, entity.ModeBot, other.Mode)
}

func TestBotTurnKeepsLastMessagePreview(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	conv := e.inbound(t, entity.ChannelWhatsApp, "5511999", "oi", "wa-1")

	// the attempt bump must not roll back the preview the append wrote
	stored, err := e.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "oi", stored.LastMessage)
	assert.Equal(t, 1, stored.BotAttempts)
}

func TestCrossTenantConversationHidden(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	conv := e.inbound(t, entity.ChannelWhatsApp, "5511999", "humano", "wa-1")
	intruder := &entity.AgentAuth{ID: "intruder", TenantID: "globex", Name: "Eve", Role: entity.RoleAgent}

	// a foreign tenant's token sees the conversation as missing
	_, err := e.core.AssignConversation(ctx, conv.ID, intruder, "", "", "")
	assert.ErrorIs(t, err, entity.ErrConversationNotFound)

	_, err = e.core.GetMessages(ctx, "globex", conv.ID, 0, 0)
	assert.ErrorIs(t, err, entity.ErrConversationNotFound)

	_, err = e.core.CloseConversation(ctx, conv.ID, intruder, "resolved")
	assert.ErrorIs(t, err, entity.ErrConversationNotFound)

	_, err = e.core.GetHandoffActions(ctx, "globex", conv.ID)
	assert.ErrorIs(t, err, entity.ErrConversationNotFound)

	err = e.core.SendAgentMessage(ctx, conv.ID, intruder, "ola")
	assert.ErrorIs(t, err, entity.ErrConversationNotFound)

	stored, err := e.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.AssignedAgentID)
	assert.Equal(t, entity.StatusOpen, stored.Status)

	// and the owning tenant still can act
	_, err = e.core.AssignConversation(ctx, conv.ID, agentAuth("agent-a", "Alice"), "", "", "")
	require.NoError(t, err)
}

func TestSessionListScopedToTenant(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	conv := e.inbound(t, entity.ChannelWhatsApp, "5511999", "humano", "wa-1")
	_, err := e.core.AssignConversation(ctx, conv.ID, agentAuth("agent-a", "Alice"), "", "", "")
	require.NoError(t, err)

	mine, err := e.core.ListHandoffSessions(ctx, "acme", 0, 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "acme", mine[0].TenantID)

	foreign, err := e.core.ListHandoffSessions(ctx, "globex", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, foreign)
}

func TestListConversationsFlagsStale(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	conv := e.inbound(t, entity.ChannelWhatsApp, "5511999", "oi", "wa-1")

	e.store.mu.Lock()
	aged := e.store.convs[conv.ID]
	aged.UpdatedAt = time.Now().Add(-30 * time.Hour)
	e.store.convs[conv.ID] = aged
	e.store.mu.Unlock()

	views, err := e.core.ListConversations(ctx, "acme", entity.StatusOpen, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].Stale)
	assert.Equal(t, entity.StatusOpen, views[0].Status)
}
