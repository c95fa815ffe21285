package rules

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"OmniDesk/entity"
	"OmniDesk/internal/lib/api/cont"
	"OmniDesk/internal/lib/api/response"
	"OmniDesk/internal/lib/sl"
)

// Get returns the fully resolved rules for the agent's tenant and the
// optional channel query parameter.
func Get(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agent := cont.GetAgent(r.Context())
		if agent == nil {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, response.Error("No authenticated agent"))
			return
		}

		channel := entity.Channel(r.URL.Query().Get("channel"))
		effective := handler.GetEffectiveRules(r.Context(), agent.TenantID, channel)
		render.JSON(w, r, response.Ok(effective))
	}
}

type PutRequest struct {
	Channel          entity.Channel `json:"channel,omitempty"`
	Enabled          *bool          `json:"enabled,omitempty"`
	MaxBotAttempts   *int           `json:"max_bot_attempts,omitempty"`
	TransferKeywords []string       `json:"transfer_keywords,omitempty"`
}

// Put stores a rule patch for the agent's tenant. An empty channel updates
// the tenant default; absent fields keep inheriting.
func Put(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.rules"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		agent := cont.GetAgent(r.Context())
		if agent == nil {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, response.Error("No authenticated agent"))
			return
		}
		if agent.Role != entity.RoleSupervisor && agent.Role != entity.RoleAdmin {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, response.Error("Changing rules requires supervisor role"))
			return
		}

		var req PutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Invalid request body"))
			return
		}

		ruleSet := &entity.RoutingRuleSet{
			TenantID:         agent.TenantID,
			Channel:          req.Channel,
			Enabled:          req.Enabled,
			MaxBotAttempts:   req.MaxBotAttempts,
			TransferKeywords: req.TransferKeywords,
			UpdatedAt:        time.Now(),
		}
		if err := handler.PutRules(r.Context(), ruleSet); err != nil {
			logger.Error("put rules", slog.String("tenant_id", agent.TenantID), sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}

		logger.Info("routing rules updated",
			slog.String("tenant_id", agent.TenantID),
			slog.String("channel", string(req.Channel)),
		)
		render.JSON(w, r, response.Ok("Rules updated"))
	}
}
