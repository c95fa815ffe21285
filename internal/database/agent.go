package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"OmniDesk/entity"
)

// GetAgentByToken resolves a bearer token to an agent record.
func (m *MongoDB) GetAgentByToken(ctx context.Context, token string) (*entity.AgentAuth, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(agentsCollection)

	var agent entity.AgentAuth
	err = collection.FindOne(ctx, bson.D{{Key: "token", Value: token}}).Decode(&agent)
	if err != nil {
		return nil, m.findError(err)
	}
	return &agent, nil
}

// CreateAgent stores a new agent identity with a freshly minted token.
func (m *MongoDB) CreateAgent(ctx context.Context, agent *entity.AgentAuth) (*entity.AgentAuth, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(agentsCollection)

	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if agent.Token == "" {
		token, err := uuid.NewUUID()
		if err != nil {
			return nil, fmt.Errorf("uuid generation error: %w", err)
		}
		agent.Token = token.String()
	}

	_, err = collection.InsertOne(ctx, agent)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("agent already exists")
		}
		return nil, fmt.Errorf("mongodb insert agent: %w", err)
	}
	return agent, nil
}
