package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"OmniDesk/entity"
)

// InsertConversation stores a new conversation. The partial unique index on
// open conversations makes a second concurrent create for the same peer fail
// with a duplicate-key error; the resolver retries as a re-read.
func (m *MongoDB) InsertConversation(ctx context.Context, conv *entity.Conversation) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(conversationsCollection)

	_, err = collection.InsertOne(ctx, conv)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return entity.ErrOpenConversationExists
		}
		return fmt.Errorf("mongodb insert conversation: %w", err)
	}
	return nil
}

// GetConversation loads one conversation by id. Returns nil when missing.
func (m *MongoDB) GetConversation(ctx context.Context, id string) (*entity.Conversation, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(conversationsCollection)

	var conv entity.Conversation
	err = collection.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&conv)
	if err != nil {
		return nil, m.findError(err)
	}
	return &conv, nil
}

// GetLatestConversation returns the most recently updated conversation for a
// peer key, open or closed. Returns nil when the peer has never talked.
func (m *MongoDB) GetLatestConversation(ctx context.Context, key entity.PeerKey) (*entity.Conversation, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(conversationsCollection)

	filter := bson.D{
		{Key: "tenant_id", Value: key.TenantID},
		{Key: "channel", Value: key.Channel},
		{Key: "peer_id", Value: key.PeerID},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}})

	var conv entity.Conversation
	err = collection.FindOne(ctx, filter, opts).Decode(&conv)
	if err != nil {
		return nil, m.findError(err)
	}
	return &conv, nil
}

// UpdateConversation replaces the stored document for conv.ID.
func (m *MongoDB) UpdateConversation(ctx context.Context, conv *entity.Conversation) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(conversationsCollection)

	res, err := collection.ReplaceOne(ctx, bson.D{{Key: "_id", Value: conv.ID}}, conv)
	if err != nil {
		return fmt.Errorf("mongodb update conversation: %w", err)
	}
	if res.MatchedCount == 0 {
		return entity.ErrConversationNotFound
	}
	return nil
}

// TouchConversation bumps updated_at and the last-message preview after an
// append, without rewriting the whole document.
func (m *MongoDB) TouchConversation(ctx context.Context, id, lastMessage string) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(conversationsCollection)

	update := bson.M{"$set": bson.M{
		"updated_at":   time.Now(),
		"last_message": lastMessage,
	}}
	_, err = collection.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update)
	if err != nil {
		return fmt.Errorf("mongodb touch conversation: %w", err)
	}
	return nil
}

// IncrementBotAttempts bumps the attempt counter in place. The bot path
// must not replace the whole document, which would overwrite a concurrent
// handoff transition or the last-message preview.
func (m *MongoDB) IncrementBotAttempts(ctx context.Context, id string) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(conversationsCollection)

	update := bson.M{
		"$inc": bson.M{"bot_attempts": 1},
		"$set": bson.M{"updated_at": time.Now()},
	}
	res, err := collection.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update)
	if err != nil {
		return fmt.Errorf("mongodb increment bot attempts: %w", err)
	}
	if res.MatchedCount == 0 {
		return entity.ErrConversationNotFound
	}
	return nil
}

// ListConversations returns a tenant's conversations, most recent first.
// Filters are optional: status and channel narrow the result when non-empty.
func (m *MongoDB) ListConversations(ctx context.Context, tenantID, status string, channel entity.Channel, limit, offset int) ([]entity.Conversation, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(conversationsCollection)

	filter := bson.D{{Key: "tenant_id", Value: tenantID}}
	if status != "" {
		filter = append(filter, bson.E{Key: "status", Value: status})
	}
	if channel != "" {
		filter = append(filter, bson.E{Key: "channel", Value: channel})
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb find conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var conversations []entity.Conversation
	if err = cursor.All(ctx, &conversations); err != nil {
		return nil, fmt.Errorf("mongodb decode conversations: %w", err)
	}
	return conversations, nil
}

// EnsureConversationIndexes creates the lookup index and the partial unique
// index that enforces at most one open conversation per peer.
func (m *MongoDB) EnsureConversationIndexes() error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(conversationsCollection)

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "channel", Value: 1},
				{Key: "peer_id", Value: 1},
				{Key: "updated_at", Value: -1},
			},
		},
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "channel", Value: 1},
				{Key: "peer_id", Value: 1},
			},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "status", Value: entity.StatusOpen}}),
		},
	}

	_, err = collection.Indexes().CreateMany(m.ctx, indexes)
	if err != nil {
		return fmt.Errorf("mongodb create conversation indexes: %w", err)
	}
	return nil
}
