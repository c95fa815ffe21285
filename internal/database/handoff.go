package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"OmniDesk/entity"
)

// InsertHandoffAction appends one immutable audit fact.
func (m *MongoDB) InsertHandoffAction(ctx context.Context, action *entity.HandoffAction) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(handoffActionsCollection)

	_, err = collection.InsertOne(ctx, action)
	if err != nil {
		return fmt.Errorf("mongodb insert handoff action: %w", err)
	}
	return nil
}

// GetHandoffActions returns a conversation's actions in creation order.
func (m *MongoDB) GetHandoffActions(ctx context.Context, conversationID string) ([]entity.HandoffAction, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(handoffActionsCollection)

	filter := bson.D{{Key: "conversation_id", Value: conversationID}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb find handoff actions: %w", err)
	}
	defer cursor.Close(ctx)

	var actions []entity.HandoffAction
	if err = cursor.All(ctx, &actions); err != nil {
		return nil, fmt.Errorf("mongodb decode handoff actions: %w", err)
	}
	return actions, nil
}

// GetHandoffSession loads the rollup for one conversation, nil when absent.
func (m *MongoDB) GetHandoffSession(ctx context.Context, conversationID string) (*entity.HandoffSession, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(handoffSessionsCollection)

	var session entity.HandoffSession
	err = collection.FindOne(ctx, bson.D{{Key: "_id", Value: conversationID}}).Decode(&session)
	if err != nil {
		return nil, m.findError(err)
	}
	return &session, nil
}

// UpsertHandoffSession writes the rollup document keyed by conversation id.
func (m *MongoDB) UpsertHandoffSession(ctx context.Context, session *entity.HandoffSession) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(handoffSessionsCollection)

	filter := bson.D{{Key: "_id", Value: session.ConversationID}}
	opts := options.Replace().SetUpsert(true)

	_, err = collection.ReplaceOne(ctx, filter, session, opts)
	if err != nil {
		return fmt.Errorf("mongodb upsert handoff session: %w", err)
	}
	return nil
}

// ListHandoffSessions returns one tenant's rollups ordered by last activity.
func (m *MongoDB) ListHandoffSessions(ctx context.Context, tenantID string, limit, offset int) ([]entity.HandoffSession, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(handoffSessionsCollection)

	opts := options.Find().
		SetSort(bson.D{{Key: "last_action_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := collection.Find(ctx, bson.D{{Key: "tenant_id", Value: tenantID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb find handoff sessions: %w", err)
	}
	defer cursor.Close(ctx)

	var sessions []entity.HandoffSession
	if err = cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("mongodb decode handoff sessions: %w", err)
	}
	return sessions, nil
}

// EnsureHandoffIndexes indexes actions by conversation and time, and
// sessions by tenant and last activity for the reporting list.
func (m *MongoDB) EnsureHandoffIndexes() error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	actions := connection.Database(m.database).Collection(handoffActionsCollection)

	index := mongo.IndexModel{
		Keys: bson.D{
			{Key: "conversation_id", Value: 1},
			{Key: "created_at", Value: 1},
		},
	}

	_, err = actions.Indexes().CreateOne(m.ctx, index)
	if err != nil {
		return fmt.Errorf("mongodb create handoff action index: %w", err)
	}

	sessions := connection.Database(m.database).Collection(handoffSessionsCollection)

	sessionIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "tenant_id", Value: 1},
			{Key: "last_action_at", Value: -1},
		},
	}

	_, err = sessions.Indexes().CreateOne(m.ctx, sessionIndex)
	if err != nil {
		return fmt.Errorf("mongodb create handoff session index: %w", err)
	}
	return nil
}
