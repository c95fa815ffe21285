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

type AssignRequest struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	GroupID   string `json:"group_id"`
}

// Assign gives the conversation to an agent; an empty body assigns the
// caller to themselves.
func Assign(log *slog.Logger, handler Core) http.HandlerFunc {
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

		var req AssignRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.Error("Invalid request body"))
				return
			}
		}

		conv, err := handler.AssignConversation(r.Context(), id, agent, req.AgentID, req.AgentName, req.GroupID)
		if err != nil {
			logger.Error("assign conversation", slog.String("conversation_id", id), sl.Err(err))
			renderError(w, r, err)
			return
		}

		render.JSON(w, r, response.Ok(conv))
	}
}
