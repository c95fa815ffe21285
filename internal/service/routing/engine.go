// Package routing decides whether the bot keeps a conversation or a human
// takes over. Evaluation is a pure function of rules, conversation state and
// message text; the engine only adds rule-store resolution on top.
package routing

import (
	"context"
	"log/slog"
	"strings"

	"OmniDesk/entity"
	"OmniDesk/internal/lib/sl"
)

const (
	TargetBot   = "bot"
	TargetHuman = "human"

	ReasonChatbotDisabled    = "chatbot_disabled"
	ReasonKeywordDetected    = "keyword_detected"
	ReasonMaxAttemptsReached = "max_bot_attempts_reached"
	ReasonNormalBotFlow      = "normal_bot_flow"
)

// Decision is the routing verdict for one inbound message.
type Decision struct {
	Target string `json:"target"`
	Reason string `json:"reason"`
}

// RuleStore loads stored rule sets. The tenant default lives under the empty
// channel; per-channel overrides refine it field by field.
type RuleStore interface {
	GetRoutingRules(ctx context.Context, tenantID string, channel entity.Channel) (*entity.RoutingRuleSet, error)
}

type Engine struct {
	store    RuleStore
	defaults entity.EffectiveRules
	log      *slog.Logger
}

func NewEngine(store RuleStore, defaults entity.EffectiveRules, log *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		defaults: defaults,
		log:      log.With(sl.Module("routing.engine")),
	}
}

// Resolve merges built-in defaults, the tenant default and the channel
// override into one effective rule set. Store misses fall back silently;
// store errors fall back too, but are logged (routing must always answer).
func (e *Engine) Resolve(ctx context.Context, tenantID string, channel entity.Channel) entity.EffectiveRules {
	rules := e.defaults

	tenantDefault, err := e.store.GetRoutingRules(ctx, tenantID, "")
	if err != nil {
		e.log.Warn("tenant rules unavailable, using defaults",
			slog.String("tenant_id", tenantID), sl.Err(err))
		return rules
	}
	rules = rules.Merge(tenantDefault)

	override, err := e.store.GetRoutingRules(ctx, tenantID, channel)
	if err != nil {
		e.log.Warn("channel rules unavailable, using tenant rules",
			slog.String("tenant_id", tenantID),
			slog.String("channel", string(channel)), sl.Err(err))
		return rules
	}
	return rules.Merge(override)
}

// Decide resolves the effective rules and evaluates them.
func (e *Engine) Decide(ctx context.Context, tenantID string, channel entity.Channel, conv *entity.Conversation, text string) Decision {
	rules := e.Resolve(ctx, tenantID, channel)
	return Evaluate(rules, conv, text)
}

// Evaluate applies the rule order from the product spec: disabled bot first,
// then transfer keywords, then the attempt budget. First match wins. The
// function is side-effect free; the caller owns the botAttempts increment
// and any handoff transition.
func Evaluate(rules entity.EffectiveRules, conv *entity.Conversation, text string) Decision {
	if !rules.Enabled {
		return Decision{Target: TargetHuman, Reason: ReasonChatbotDisabled}
	}

	lower := strings.ToLower(text)
	for _, keyword := range rules.TransferKeywords {
		if keyword != "" && strings.Contains(lower, keyword) {
			return Decision{Target: TargetHuman, Reason: ReasonKeywordDetected}
		}
	}

	if conv.BotAttempts >= rules.MaxBotAttempts {
		return Decision{Target: TargetHuman, Reason: ReasonMaxAttemptsReached}
	}

	return Decision{Target: TargetBot, Reason: ReasonNormalBotFlow}
}
