package entity

import (
	"strings"
	"time"
)

// RoutingRuleSet is the per-tenant (optionally per-channel) routing
// configuration. Pointer fields distinguish "explicitly set" from "inherit":
// a channel override only wins per-field when the field is non-nil.
type RoutingRuleSet struct {
	TenantID         string    `json:"tenant_id" bson:"tenant_id" validate:"required"`
	Channel          Channel   `json:"channel,omitempty" bson:"channel,omitempty"`
	Enabled          *bool     `json:"enabled,omitempty" bson:"enabled,omitempty"`
	MaxBotAttempts   *int      `json:"max_bot_attempts,omitempty" bson:"max_bot_attempts,omitempty" validate:"omitempty,min=0"`
	TransferKeywords []string  `json:"transfer_keywords,omitempty" bson:"transfer_keywords,omitempty"`
	UpdatedAt        time.Time `json:"updated_at" bson:"updated_at"`
}

// EffectiveRules is a fully resolved rule set with no inheritance left.
type EffectiveRules struct {
	Enabled          bool     `json:"enabled"`
	MaxBotAttempts   int      `json:"max_bot_attempts"`
	TransferKeywords []string `json:"transfer_keywords"`
}

// Merge overlays the override on top of base, field by field. A nil override
// field keeps the base value; keywords replace wholesale, never concatenate.
func (e EffectiveRules) Merge(override *RoutingRuleSet) EffectiveRules {
	if override == nil {
		return e
	}
	if override.Enabled != nil {
		e.Enabled = *override.Enabled
	}
	if override.MaxBotAttempts != nil {
		e.MaxBotAttempts = *override.MaxBotAttempts
	}
	if override.TransferKeywords != nil {
		e.TransferKeywords = normalizeKeywords(override.TransferKeywords)
	}
	return e
}

func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}
