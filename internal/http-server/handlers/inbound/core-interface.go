package inbound

import (
	"context"

	"OmniDesk/entity"
)

type Core interface {
	HandleInbound(ctx context.Context, event entity.InboundEvent) error
}
