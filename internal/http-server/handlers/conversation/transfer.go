package conversation

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"OmniDesk/internal/lib/api/cont"
	"OmniDesk/internal/lib/api/response"
	"OmniDesk/internal/lib/sl"
)

type TransferAgentRequest struct {
	ToAgentID   string `json:"to_agent_id"`
	ToAgentName string `json:"to_agent_name"`
}

type TransferGroupRequest struct {
	ToGroupID string `json:"to_group_id"`
}

// TransferAgent hands the conversation from its current owner to another
// agent.
func TransferAgent(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.conversation"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		agent := cont.GetAgent(r.Context())
		if agent == nil {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, response.Error("No authenticated agent"))
			return
		}

		id := chi.URLParam(r, "id")

		var req TransferAgentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Invalid request body"))
			return
		}
		if req.ToAgentID == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("to_agent_id is required"))
			return
		}

		conv, err := handler.TransferToAgent(r.Context(), id, agent, req.ToAgentID, req.ToAgentName)
		if err != nil {
			logger.Error("transfer to agent", slog.String("conversation_id", id), sl.Err(err))
			renderError(w, r, err)
			return
		}

		render.JSON(w, r, response.Ok(conv))
	}
}

// TransferGroup re-queues the conversation into another group.
func TransferGroup(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.conversation"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		agent := cont.GetAgent(r.Context())
		if agent == nil {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, response.Error("No authenticated agent"))
			return
		}

		id := chi.URLParam(r, "id")

		var req TransferGroupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Invalid request body"))
			return
		}
		if req.ToGroupID == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("to_group_id is required"))
			return
		}

		conv, err := handler.TransferToGroup(r.Context(), id, agent, req.ToGroupID)
		if err != nil {
			logger.Error("transfer to group", slog.String("conversation_id", id), sl.Err(err))
			renderError(w, r, err)
			return
		}

		render.JSON(w, r, response.Ok(conv))
	}
}
