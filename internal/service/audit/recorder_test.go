package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OmniDesk/entity"
)

type memAuditRepo struct {
	mu          sync.Mutex
	actions     []entity.HandoffAction
	sessions    map[string]*entity.HandoffSession
	failRollups bool
}

func newMemAuditRepo() *memAuditRepo {
	return &memAuditRepo{sessions: make(map[string]*entity.HandoffSession)}
}

func (r *memAuditRepo) InsertHandoffAction(_ context.Context, a *entity.HandoffAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, *a)
	return nil
}

func (r *memAuditRepo) GetHandoffActions(_ context.Context, id string) ([]entity.HandoffAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.HandoffAction
	for _, a := range r.actions {
		if a.ConversationID == id {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memAuditRepo) GetHandoffSession(_ context.Context, id string) (*entity.HandoffSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (r *memAuditRepo) UpsertHandoffSession(_ context.Context, s *entity.HandoffSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failRollups {
		return errors.New("rollup write refused")
	}
	cp := *s
	r.sessions[s.ConversationID] = &cp
	return nil
}

func actor(id string) entity.Actor {
	return entity.Actor{ID: id, Name: "Agent " + id, Role: entity.RoleAgent}
}

func TestRecordCreatesSessionOnFirstAction(t *testing.T) {
	repo := newMemAuditRepo()
	rec := NewRecorder(repo, slog.Default())

	a := entity.NewHandoffAction("c1", actor("A"), entity.ActionTakeover, "took over")
	require.NoError(t, rec.Record(context.Background(), a))

	s := repo.sessions["c1"]
	require.NotNil(t, s)
	assert.Equal(t, "A", s.FirstAgentID)
	assert.Equal(t, "A", s.LastAgentID)
	assert.Equal(t, a.CreatedAt, s.CreatedAt)
	assert.Nil(t, s.ClosedAt)
}

func TestRecordFirstAgentImmutable(t *testing.T) {
	repo := newMemAuditRepo()
	rec := NewRecorder(repo, slog.Default())

	require.NoError(t, rec.Record(context.Background(),
		entity.NewHandoffAction("c1", actor("A"), entity.ActionTakeover, "took over")))
	require.NoError(t, rec.Record(context.Background(),
		entity.NewHandoffAction("c1", actor("B"), entity.ActionTakeover, "transferred")))

	s := repo.sessions["c1"]
	assert.Equal(t, "A", s.FirstAgentID)
	assert.Equal(t, "B", s.LastAgentID)
}

func TestRecordFoldsTransferTarget(t *testing.T) {
	repo := newMemAuditRepo()
	rec := NewRecorder(repo, slog.Default())

	assign := entity.NewHandoffAction("c1", actor("A"), entity.ActionTakeover, "assigned to Agent A")
	assign.TargetID, assign.TargetName = "A", "Agent A"
	require.NoError(t, rec.Record(context.Background(), assign))

	// agent A hands the conversation to B; the rollup must track B, not
	// the actor who performed the transfer
	transfer := entity.NewHandoffAction("c1", actor("A"), entity.ActionTakeover, "transferred from A to Agent B")
	transfer.TargetID, transfer.TargetName = "B", "Agent B"
	require.NoError(t, rec.Record(context.Background(), transfer))

	s := repo.sessions["c1"]
	assert.Equal(t, "A", s.FirstAgentID)
	assert.Equal(t, "B", s.LastAgentID)
	assert.Equal(t, "Agent B", s.LastAgentName)
}

func TestRecordIdempotentClose(t *testing.T) {
	repo := newMemAuditRepo()
	rec := NewRecorder(repo, slog.Default())

	first := entity.NewHandoffAction("c1", actor("A"), entity.ActionStatusChange, entity.CloseNotePrefix+" resolved")
	require.NoError(t, rec.Record(context.Background(), first))

	closedAt := *repo.sessions["c1"].ClosedAt

	// a replayed close must not move closed_at
	time.Sleep(5 * time.Millisecond)
	second := entity.NewHandoffAction("c1", actor("B"), entity.ActionStatusChange, entity.CloseNotePrefix+" resolved")
	require.NoError(t, rec.Record(context.Background(), second))

	s := repo.sessions["c1"]
	assert.Equal(t, closedAt, *s.ClosedAt)
	assert.Equal(t, "A", s.ClosedByID)
	assert.Equal(t, "B", s.LastAgentID)
}

func TestRecordToleratesRollupFailure(t *testing.T) {
	repo := newMemAuditRepo()
	repo.failRollups = true
	rec := NewRecorder(repo, slog.Default())

	a := entity.NewHandoffAction("c1", actor("A"), entity.ActionTakeover, "took over")
	require.NoError(t, rec.Record(context.Background(), a))

	// action landed, rollup did not
	assert.Len(t, repo.actions, 1)
	assert.Empty(t, repo.sessions)
}

func TestRebuildMatchesIncrementalFold(t *testing.T) {
	repo := newMemAuditRepo()
	rec := NewRecorder(repo, slog.Default())

	actions := []*entity.HandoffAction{
		entity.NewHandoffAction("c1", actor("A"), entity.ActionTakeover, "took over"),
		entity.NewHandoffAction("c1", actor("A"), entity.ActionNote, "checking order"),
		entity.NewHandoffAction("c1", actor("B"), entity.ActionTakeover, "transferred"),
		entity.NewHandoffAction("c1", actor("B"), entity.ActionStatusChange, entity.CloseNotePrefix+" resolved"),
	}
	for _, a := range actions {
		require.NoError(t, rec.Record(context.Background(), a))
	}
	incremental := *repo.sessions["c1"]

	delete(repo.sessions, "c1")
	rebuilt, err := rec.Rebuild(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, incremental, *rebuilt)
	assert.Equal(t, incremental, *repo.sessions["c1"])
}

func TestRebuildNoActionsNoSession(t *testing.T) {
	rec := NewRecorder(newMemAuditRepo(), slog.Default())
	s, err := rec.Rebuild(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, s)
}
