package agent

import "OmniDesk/entity"

type Core interface {
	RegisterAgent(tenantID, name, role string) (*entity.AgentAuth, error)
}
