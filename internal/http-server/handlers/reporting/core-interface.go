package reporting

import (
	"context"

	"OmniDesk/entity"
)

type Core interface {
	ListHandoffSessions(ctx context.Context, tenantID string, limit, offset int) ([]entity.HandoffSession, error)
	GetHandoffSession(ctx context.Context, tenantID, conversationID string) (*entity.HandoffSession, error)
	GetHandoffActions(ctx context.Context, tenantID, conversationID string) ([]entity.HandoffAction, error)
}
