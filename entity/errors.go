package entity

import "errors"

var (
	// ErrConversationNotFound is returned when an action references an
	// unknown conversation id.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrConversationClosed rejects transitions on a closed conversation.
	// Reopening is forbidden; a new conversation must be created instead.
	ErrConversationClosed = errors.New("conversation is closed")

	// ErrInvalidTransition rejects a handoff transition the current state
	// does not allow.
	ErrInvalidTransition = errors.New("invalid handoff transition")

	// ErrDuplicateMessage marks a provider-message-id collision inside the
	// store. Callers treat it as a successful no-op, never as a failure.
	ErrDuplicateMessage = errors.New("duplicate provider message id")

	// ErrOpenConversationExists signals that another open conversation for
	// the same peer won a concurrent create. The resolver re-reads on it.
	ErrOpenConversationExists = errors.New("open conversation already exists")
)
