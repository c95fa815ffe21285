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

type CloseRequest struct {
	Reason string `json:"reason"`
}

// Close ends the conversation. Closing twice is a no-op, so the agent UI
// never has to special-case a double-tap.
func Close(log *slog.Logger, handler Core) http.HandlerFunc {
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

		var req CloseRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.Error("Invalid request body"))
				return
			}
		}

		conv, err := handler.CloseConversation(r.Context(), id, agent, req.Reason)
		if err != nil {
			logger.Error("close conversation", slog.String("conversation_id", id), sl.Err(err))
			renderError(w, r, err)
			return
		}

		render.JSON(w, r, response.Ok(conv))
	}
}
