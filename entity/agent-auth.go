package entity

import (
	"OmniDesk/internal/lib/validate"
	"net/http"
)

const (
	RoleAgent      = "agent"
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
	RoleSystem     = "system"
)

// Actor is the authenticated identity performing a handoff action.
type Actor struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name"`
	Role string `json:"role" validate:"required,oneof=agent supervisor admin system"`
}

// SystemActor is used for transitions the engine performs on its own.
func SystemActor() Actor {
	return Actor{ID: "system", Name: "system", Role: RoleSystem}
}

// AgentAuth is an authenticated agent record resolved from a bearer token.
type AgentAuth struct {
	ID       string `json:"id" bson:"_id" validate:"required"`
	TenantID string `json:"tenant_id" bson:"tenant_id" validate:"required"`
	Name     string `json:"name" bson:"name" validate:"omitempty"`
	Role     string `json:"role" bson:"role" validate:"required,oneof=agent supervisor admin"`
	Token    string `json:"token" bson:"token" validate:"required,min=1"`
	Blocked  bool   `json:"blocked" bson:"blocked"`
}

func (a *AgentAuth) Bind(_ *http.Request) error {
	return validate.Struct(a)
}

// Actor converts the auth record into a handoff actor identity.
func (a *AgentAuth) Actor() Actor {
	return Actor{ID: a.ID, Name: a.Name, Role: a.Role}
}
