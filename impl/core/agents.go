package core

import (
	"fmt"

	"OmniDesk/entity"
)

type AgentService interface {
	AuthenticateByToken(token string) (*entity.AgentAuth, error)
	RegisterAgent(tenantID, name, role string) (*entity.AgentAuth, error)
}

func (c *Core) SetAgentService(agents AgentService) {
	c.agents = agents
}

func (c *Core) AuthenticateByToken(token string) (*entity.AgentAuth, error) {
	if c.agents == nil {
		return nil, fmt.Errorf("agent service not configured")
	}
	return c.agents.AuthenticateByToken(token)
}

func (c *Core) RegisterAgent(tenantID, name, role string) (*entity.AgentAuth, error) {
	if c.agents == nil {
		return nil, fmt.Errorf("agent service not configured")
	}
	return c.agents.RegisterAgent(tenantID, name, role)
}
