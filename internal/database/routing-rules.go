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

// GetRoutingRules loads one rule document for (tenant, channel). The tenant
// default lives under channel "". Returns nil when nothing is stored.
func (m *MongoDB) GetRoutingRules(ctx context.Context, tenantID string, channel entity.Channel) (*entity.RoutingRuleSet, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(routingRulesCollection)

	filter := bson.D{{Key: "tenant_id", Value: tenantID}, {Key: "channel", Value: channel}}

	var rules entity.RoutingRuleSet
	err = collection.FindOne(ctx, filter).Decode(&rules)
	if err != nil {
		return nil, m.findError(err)
	}
	return &rules, nil
}

// PutRoutingRules overwrites the rule document for (tenant, channel).
// Rule sets are never deleted, only overwritten.
func (m *MongoDB) PutRoutingRules(ctx context.Context, rules *entity.RoutingRuleSet) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(routingRulesCollection)

	rules.UpdatedAt = time.Now()

	filter := bson.D{{Key: "tenant_id", Value: rules.TenantID}, {Key: "channel", Value: rules.Channel}}
	update := bson.M{"$set": rules}
	opts := options.Update().SetUpsert(true)

	_, err = collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("mongodb put routing rules: %w", err)
	}
	return nil
}

// EnsureRoutingRuleIndexes keys rule documents uniquely by tenant+channel.
func (m *MongoDB) EnsureRoutingRuleIndexes() error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(routingRulesCollection)

	index := mongo.IndexModel{
		Keys: bson.D{
			{Key: "tenant_id", Value: 1},
			{Key: "channel", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}

	_, err = collection.Indexes().CreateOne(m.ctx, index)
	if err != nil {
		return fmt.Errorf("mongodb create routing rule index: %w", err)
	}
	return nil
}
