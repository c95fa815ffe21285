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

// nextSequenceID allocates a monotonically increasing per-conversation
// sequence number via an atomic $inc on the counters collection.
func (m *MongoDB) nextSequenceID(ctx context.Context, connection *mongo.Client, conversationID string) (int64, error) {
	collection := connection.Database(m.database).Collection(countersCollection)

	filter := bson.D{{Key: "_id", Value: "msg:" + conversationID}}
	update := bson.M{"$inc": bson.M{"seq": int64(1)}}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("mongodb next sequence id: %w", err)
	}
	return counter.Seq, nil
}

// InsertChatMessage appends a message to a conversation's log. A duplicate
// provider message id trips the unique index and is surfaced as
// entity.ErrDuplicateMessage so the caller can treat it as a no-op.
func (m *MongoDB) InsertChatMessage(ctx context.Context, msg *entity.ChatMessage) (*entity.ChatMessage, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	seq, err := m.nextSequenceID(ctx, connection, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	msg.SequenceID = seq
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	collection := connection.Database(m.database).Collection(messagesCollection)

	_, err = collection.InsertOne(ctx, msg)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, entity.ErrDuplicateMessage
		}
		return nil, fmt.Errorf("mongodb insert chat message: %w", err)
	}
	return msg, nil
}

// GetChatMessages returns a conversation's messages in sequence order.
func (m *MongoDB) GetChatMessages(ctx context.Context, conversationID string, limit, offset int) ([]entity.ChatMessage, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(messagesCollection)

	filter := bson.D{{Key: "conversation_id", Value: conversationID}}
	opts := options.Find().
		SetSort(bson.D{{Key: "sequence_id", Value: 1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb find chat messages: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []entity.ChatMessage
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("mongodb decode chat messages: %w", err)
	}
	return messages, nil
}

// GetRecentChatMessages returns the newest messages first, capped at limit.
// Used by the auto-reply service to build completion context.
func (m *MongoDB) GetRecentChatMessages(ctx context.Context, conversationID string, limit int) ([]entity.ChatMessage, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(messagesCollection)

	filter := bson.D{{Key: "conversation_id", Value: conversationID}}
	opts := options.Find().
		SetSort(bson.D{{Key: "sequence_id", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb find recent messages: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []entity.ChatMessage
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("mongodb decode recent messages: %w", err)
	}
	return messages, nil
}

// EnsureMessageIndexes creates the ordering index and the sparse unique
// index that backs provider-message-id deduplication.
func (m *MongoDB) EnsureMessageIndexes() error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(messagesCollection)

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "conversation_id", Value: 1},
				{Key: "sequence_id", Value: 1},
			},
		},
		{
			Keys: bson.D{
				{Key: "conversation_id", Value: 1},
				{Key: "provider_message_id", Value: 1},
			},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.D{
					{Key: "provider_message_id", Value: bson.D{{Key: "$exists", Value: true}}},
				}),
		},
	}

	_, err = collection.Indexes().CreateMany(m.ctx, indexes)
	if err != nil {
		return fmt.Errorf("mongodb create message indexes: %w", err)
	}
	return nil
}
