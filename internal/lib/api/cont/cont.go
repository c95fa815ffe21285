// Package cont carries the authenticated agent through request contexts.
package cont

import (
	"context"

	"OmniDesk/entity"
)

type ctxKey int

const agentKey ctxKey = iota

// PutAgent stores the authenticated agent in the request context.
func PutAgent(ctx context.Context, agent *entity.AgentAuth) context.Context {
	return context.WithValue(ctx, agentKey, agent)
}

// GetAgent returns the authenticated agent, or nil outside the auth chain.
func GetAgent(ctx context.Context) *entity.AgentAuth {
	agent, _ := ctx.Value(agentKey).(*entity.AgentAuth)
	return agent
}
