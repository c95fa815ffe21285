package conversation

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"OmniDesk/entity"
	"OmniDesk/internal/lib/api/cont"
	"OmniDesk/internal/lib/api/response"
	"OmniDesk/internal/lib/sl"
)

// List returns the agent's tenant conversations, filterable by status and
// channel, newest activity first.
func List(log *slog.Logger, handler Core) http.HandlerFunc {
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

		status := r.URL.Query().Get("status")
		channel := entity.Channel(r.URL.Query().Get("channel"))
		limit := queryInt(r, "limit", 50)
		offset := queryInt(r, "offset", 0)

		views, err := handler.ListConversations(r.Context(), agent.TenantID, status, channel, limit, offset)
		if err != nil {
			logger.Error("list conversations", sl.Err(err))
			renderError(w, r, err)
			return
		}

		render.JSON(w, r, response.Ok(views))
	}
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
