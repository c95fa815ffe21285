package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"OmniDesk/entity"
)

// UpsertContact refreshes the peer's display profile. Name is only kept when
// non-empty so a sparse webhook never blanks a known contact.
func (m *MongoDB) UpsertContact(ctx context.Context, contact entity.Contact) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(contactsCollection)

	contact.LastSeen = time.Now()

	filter := bson.D{
		{Key: "tenant_id", Value: contact.TenantID},
		{Key: "channel", Value: contact.Channel},
		{Key: "peer_id", Value: contact.PeerID},
	}

	set := bson.M{"last_seen": contact.LastSeen}
	if contact.Name != "" {
		set["name"] = contact.Name
	}
	update := bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			"tenant_id": contact.TenantID,
			"channel":   contact.Channel,
			"peer_id":   contact.PeerID,
		},
	}

	_, err = collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongodb upsert contact: %w", err)
	}
	return nil
}

// GetContact returns the stored peer profile, nil when unknown.
func (m *MongoDB) GetContact(ctx context.Context, key entity.PeerKey) (*entity.Contact, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(contactsCollection)

	filter := bson.D{
		{Key: "tenant_id", Value: key.TenantID},
		{Key: "channel", Value: key.Channel},
		{Key: "peer_id", Value: key.PeerID},
	}

	var contact entity.Contact
	err = collection.FindOne(ctx, filter).Decode(&contact)
	if err != nil {
		return nil, m.findError(err)
	}
	return &contact, nil
}
