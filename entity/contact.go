package entity

import "time"

// Contact is the denormalized peer profile, refreshed opportunistically
// whenever an inbound event carries a display name.
type Contact struct {
	TenantID string    `json:"tenant_id" bson:"tenant_id"`
	Channel  Channel   `json:"channel" bson:"channel"`
	PeerID   string    `json:"peer_id" bson:"peer_id"`
	Name     string    `json:"name" bson:"name"`
	LastSeen time.Time `json:"last_seen" bson:"last_seen"`
}
