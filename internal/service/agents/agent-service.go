// Package agents resolves and manages the human identities allowed to act
// on conversations.
package agents

import (
	"context"
	"fmt"
	"log/slog"

	"OmniDesk/entity"
	"OmniDesk/internal/lib/sl"
	"OmniDesk/internal/lib/validate"
)

type Repository interface {
	GetAgentByToken(ctx context.Context, token string) (*entity.AgentAuth, error)
	CreateAgent(ctx context.Context, agent *entity.AgentAuth) (*entity.AgentAuth, error)
}

type Service struct {
	repo Repository
	log  *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	return &Service{
		log: logger.With(sl.Module("agent service")),
	}
}

func (s *Service) SetRepository(repo Repository) {
	s.repo = repo
}

// AuthenticateByToken resolves a bearer token to an active agent.
func (s *Service) AuthenticateByToken(token string) (*entity.AgentAuth, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("agent repository not configured")
	}

	agent, err := s.repo.GetAgentByToken(context.Background(), token)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, fmt.Errorf("token not found")
	}
	if agent.Blocked {
		return nil, fmt.Errorf("agent is blocked")
	}
	return agent, nil
}

// RegisterAgent mints a new agent identity with a fresh token.
func (s *Service) RegisterAgent(tenantID, name, role string) (*entity.AgentAuth, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("agent repository not configured")
	}
	if err := validate.Var(role, "required,oneof=agent supervisor admin"); err != nil {
		return nil, fmt.Errorf("invalid role %q", role)
	}

	agent := &entity.AgentAuth{
		TenantID: tenantID,
		Name:     name,
		Role:     role,
	}
	created, err := s.repo.CreateAgent(context.Background(), agent)
	if err != nil {
		return nil, err
	}

	s.log.With(
		slog.String("tenant_id", tenantID),
		slog.String("role", role),
		sl.Secret("token", created.Token),
	).Info("agent registered")
	return created, nil
}
