package rules

import (
	"context"

	"OmniDesk/entity"
)

type Core interface {
	GetEffectiveRules(ctx context.Context, tenantID string, channel entity.Channel) entity.EffectiveRules
	PutRules(ctx context.Context, rules *entity.RoutingRuleSet) error
}
