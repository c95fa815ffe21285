package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"OmniDesk/internal/config"
	"OmniDesk/internal/lib/sl"
)

const (
	conversationsCollection   = "conversations"
	messagesCollection        = "messages"
	countersCollection        = "counters"
	contactsCollection        = "contacts"
	routingRulesCollection    = "routing-rules"
	handoffActionsCollection  = "handoff-actions"
	handoffSessionsCollection = "handoff-sessions"
	agentsCollection          = "agents"
)

type MongoDB struct {
	ctx           context.Context
	clientOptions *options.ClientOptions
	database      string
	log           *slog.Logger
}

func NewMongoClient(conf *config.Config, logger *slog.Logger) (*MongoDB, error) {
	if !conf.Mongo.Enabled {
		return nil, nil
	}
	connectionUri := fmt.Sprintf("mongodb://%s:%s", conf.Mongo.Host, conf.Mongo.Port)
	clientOptions := options.Client().ApplyURI(connectionUri)
	if conf.Mongo.User != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   conf.Mongo.User,
			Password:   conf.Mongo.Password,
			AuthSource: conf.Mongo.Database,
		})
	}
	client := &MongoDB{
		ctx:           context.Background(),
		clientOptions: clientOptions,
		database:      conf.Mongo.Database,
		log:           logger.With(sl.Module("mongodb")),
	}
	return client, nil
}

func (m *MongoDB) connect() (*mongo.Client, error) {
	connection, err := mongo.Connect(m.ctx, m.clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongodb connect error: %w", err)
	}
	return connection, nil
}

func (m *MongoDB) disconnect(connection *mongo.Client) {
	_ = connection.Disconnect(m.ctx)
}

func (m *MongoDB) findError(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	return fmt.Errorf("mongodb find error: %w", err)
}

// EnsureIndexes creates every index the engine's invariants rely on. Called
// once at startup; safe to call repeatedly.
func (m *MongoDB) EnsureIndexes() error {
	if err := m.EnsureConversationIndexes(); err != nil {
		return err
	}
	if err := m.EnsureMessageIndexes(); err != nil {
		return err
	}
	if err := m.EnsureHandoffIndexes(); err != nil {
		return err
	}
	return m.EnsureRoutingRuleIndexes()
}
