package conversation

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"OmniDesk/internal/lib/api/cont"
	"OmniDesk/internal/lib/api/response"
	"OmniDesk/internal/lib/sl"
)

// Messages returns the transcript of one conversation in sequence order.
func Messages(log *slog.Logger, handler Core) http.HandlerFunc {
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
		limit := queryInt(r, "limit", 100)
		offset := queryInt(r, "offset", 0)

		messages, err := handler.GetMessages(r.Context(), agent.TenantID, id, limit, offset)
		if err != nil {
			logger.Error("get messages", slog.String("conversation_id", id), sl.Err(err))
			renderError(w, r, err)
			return
		}

		render.JSON(w, r, response.Ok(messages))
	}
}
