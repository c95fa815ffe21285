// Package audit keeps the append-only handoff action log and the derived
// per-conversation session rollup. The action log is the source of truth;
// the rollup is a materialized view and can always be rebuilt from it.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"OmniDesk/entity"
	"OmniDesk/internal/lib/sl"
)

// Repository is the slice of storage the recorder needs.
type Repository interface {
	InsertHandoffAction(ctx context.Context, action *entity.HandoffAction) error
	GetHandoffActions(ctx context.Context, conversationID string) ([]entity.HandoffAction, error)
	GetHandoffSession(ctx context.Context, conversationID string) (*entity.HandoffSession, error)
	UpsertHandoffSession(ctx context.Context, session *entity.HandoffSession) error
}

type Recorder struct {
	repo Repository
	log  *slog.Logger
}

func NewRecorder(repo Repository, log *slog.Logger) *Recorder {
	return &Recorder{
		repo: repo,
		log:  log.With(sl.Module("audit.recorder")),
	}
}

// Record appends the action and folds it into the session rollup. A rollup
// write failure is logged but not returned: the action is already durable
// and Rebuild recovers the rollup from the log.
func (r *Recorder) Record(ctx context.Context, action *entity.HandoffAction) error {
	if err := r.repo.InsertHandoffAction(ctx, action); err != nil {
		return fmt.Errorf("record handoff action: %w", err)
	}

	if err := r.rollup(ctx, action); err != nil {
		r.log.Warn("handoff session rollup failed, action is still recorded",
			slog.String("conversation_id", action.ConversationID),
			sl.Err(err),
		)
	}
	return nil
}

func (r *Recorder) rollup(ctx context.Context, action *entity.HandoffAction) error {
	if action.ActorRole == entity.RoleSystem {
		return nil // system actions never shape the session rollup
	}
	session, err := r.repo.GetHandoffSession(ctx, action.ConversationID)
	if err != nil {
		return err
	}
	if session == nil {
		session = &entity.HandoffSession{}
	}
	session.Apply(action)
	return r.repo.UpsertHandoffSession(ctx, session)
}

// Rebuild replays every action for a conversation through the same fold and
// rewrites the rollup. Used to recover from partial rollup failures.
func (r *Recorder) Rebuild(ctx context.Context, conversationID string) (*entity.HandoffSession, error) {
	actions, err := r.repo.GetHandoffActions(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("rebuild: load actions: %w", err)
	}
	if len(actions) == 0 {
		return nil, nil
	}

	session := &entity.HandoffSession{}
	for i := range actions {
		session.Apply(&actions[i])
	}
	if session.ConversationID == "" {
		return nil, nil // only system actions so far, nothing to roll up
	}

	if err := r.repo.UpsertHandoffSession(ctx, session); err != nil {
		return nil, fmt.Errorf("rebuild: write session: %w", err)
	}
	return session, nil
}
