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

type NoteRequest struct {
	Note string `json:"note"`
}

// AddNote records an internal annotation. Notes stay allowed on closed
// conversations.
func AddNote(log *slog.Logger, handler Core) http.HandlerFunc {
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

		var req NoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Invalid request body"))
			return
		}
		if req.Note == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("note is required"))
			return
		}

		action, err := handler.AddNote(r.Context(), id, agent, req.Note)
		if err != nil {
			logger.Error("add note", slog.String("conversation_id", id), sl.Err(err))
			renderError(w, r, err)
			return
		}

		render.JSON(w, r, response.Ok(action))
	}
}
