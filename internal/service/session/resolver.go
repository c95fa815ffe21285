// Package session maps inbound peers to durable conversations, applying the
// continuity window and the no-reopen rule.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"OmniDesk/entity"
	"OmniDesk/internal/lib/keylock"
	"OmniDesk/internal/lib/sl"
)

// ConversationRepository is the slice of storage the resolver needs.
type ConversationRepository interface {
	GetLatestConversation(ctx context.Context, key entity.PeerKey) (*entity.Conversation, error)
	InsertConversation(ctx context.Context, conv *entity.Conversation) error
	UpdateConversation(ctx context.Context, conv *entity.Conversation) error
}

// ContactRepository persists the peer display profile opportunistically.
type ContactRepository interface {
	UpsertContact(ctx context.Context, contact entity.Contact) error
}

type Resolver struct {
	repo     ConversationRepository
	contacts ContactRepository
	locks    *keylock.KeyLock
	timeout  time.Duration
	log      *slog.Logger
	now      func() time.Time
}

func NewResolver(repo ConversationRepository, contacts ContactRepository, timeout time.Duration, log *slog.Logger) *Resolver {
	return &Resolver{
		repo:     repo,
		contacts: contacts,
		locks:    keylock.New(),
		timeout:  timeout,
		log:      log.With(sl.Module("session.resolver")),
		now:      time.Now,
	}
}

// Resolve finds or creates the active conversation for a peer. The boolean
// reports whether a new conversation was created. Calls for the same peer
// are serialized, so racing webhook deliveries cannot open two sessions.
func (r *Resolver) Resolve(ctx context.Context, key entity.PeerKey, displayName string) (*entity.Conversation, bool, error) {
	lockKey := fmt.Sprintf("%s|%s|%s", key.TenantID, key.Channel, key.PeerID)
	r.locks.Lock(lockKey)
	defer r.locks.Unlock(lockKey)

	r.saveContact(ctx, key, displayName)

	latest, err := r.repo.GetLatestConversation(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("load latest conversation: %w", err)
	}

	switch {
	case latest == nil:
		// first contact ever
	case latest.IsClosed():
		// closed conversations are never reopened
	case latest.Stale(r.timeout, r.now()):
		if err := r.expire(ctx, latest); err != nil {
			return nil, false, err
		}
	default:
		if displayName != "" && latest.PeerName != displayName {
			latest.PeerName = displayName
			latest.UpdatedAt = r.now()
			if err := r.repo.UpdateConversation(ctx, latest); err != nil {
				return nil, false, fmt.Errorf("refresh peer name: %w", err)
			}
		}
		return latest, false, nil
	}

	return r.create(ctx, key, displayName)
}

// expire closes a conversation that outlived the continuity window. The
// check runs lazily on the next contact, there is no background timer.
func (r *Resolver) expire(ctx context.Context, conv *entity.Conversation) error {
	now := r.now()
	conv.Status = entity.StatusClosed
	conv.AutoClosed = true
	conv.ClosedReason = entity.ClosedReasonTimeout
	conv.ClosedAt = &now
	conv.UpdatedAt = now

	if err := r.repo.UpdateConversation(ctx, conv); err != nil {
		return fmt.Errorf("expire stale conversation: %w", err)
	}

	r.log.Info("conversation auto-closed after timeout",
		slog.String("conversation_id", conv.ID),
		slog.String("tenant_id", conv.TenantID),
		slog.String("channel", string(conv.Channel)),
	)
	return nil
}

func (r *Resolver) create(ctx context.Context, key entity.PeerKey, displayName string) (*entity.Conversation, bool, error) {
	conv := entity.NewConversation(key, displayName)

	err := r.repo.InsertConversation(ctx, conv)
	if errors.Is(err, entity.ErrOpenConversationExists) {
		// lost a cross-instance race; the winner's conversation is the
		// active one
		existing, readErr := r.repo.GetLatestConversation(ctx, key)
		if readErr != nil {
			return nil, false, fmt.Errorf("re-read after create conflict: %w", readErr)
		}
		if existing == nil || !existing.IsOpen() {
			return nil, false, fmt.Errorf("create conversation conflict: %w", err)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}

	r.log.Info("conversation created",
		slog.String("conversation_id", conv.ID),
		slog.String("tenant_id", conv.TenantID),
		slog.String("channel", string(conv.Channel)),
	)
	return conv, true, nil
}

func (r *Resolver) saveContact(ctx context.Context, key entity.PeerKey, displayName string) {
	if r.contacts == nil {
		return
	}
	err := r.contacts.UpsertContact(ctx, entity.Contact{
		TenantID: key.TenantID,
		Channel:  key.Channel,
		PeerID:   key.PeerID,
		Name:     displayName,
	})
	if err != nil {
		// profile refresh is best effort, never blocks resolution
		r.log.Warn("contact upsert failed", sl.Err(err))
	}
}
