// Package reporting exposes read-only audit views. Nothing here writes back
// into conversation state. All views are scoped to the caller's tenant.
package reporting

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"OmniDesk/entity"
	"OmniDesk/internal/lib/api/cont"
	"OmniDesk/internal/lib/api/response"
	"OmniDesk/internal/lib/sl"
)

// Sessions lists handoff session rollups, most recent activity first.
func Sessions(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.reporting"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		agent := cont.GetAgent(r.Context())
		if agent == nil {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, response.Error("No authenticated agent"))
			return
		}

		limit := queryInt(r, "limit", 50)
		offset := queryInt(r, "offset", 0)

		sessions, err := handler.ListHandoffSessions(r.Context(), agent.TenantID, limit, offset)
		if err != nil {
			logger.Error("list handoff sessions", sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("Failed to list sessions"))
			return
		}

		render.JSON(w, r, response.Ok(sessions))
	}
}

// Session returns the rollup for one conversation.
func Session(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.reporting"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		agent := cont.GetAgent(r.Context())
		if agent == nil {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, response.Error("No authenticated agent"))
			return
		}

		id := chi.URLParam(r, "id")
		session, err := handler.GetHandoffSession(r.Context(), agent.TenantID, id)
		if errors.Is(err, entity.ErrConversationNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.Error("Conversation not found"))
			return
		}
		if err != nil {
			logger.Error("get handoff session", slog.String("conversation_id", id), sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("Failed to load session"))
			return
		}
		if session == nil {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.Error("No handoff session for conversation"))
			return
		}

		render.JSON(w, r, response.Ok(session))
	}
}

// Actions returns the raw action log for one conversation.
func Actions(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.reporting"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		agent := cont.GetAgent(r.Context())
		if agent == nil {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, response.Error("No authenticated agent"))
			return
		}

		id := chi.URLParam(r, "id")
		actions, err := handler.GetHandoffActions(r.Context(), agent.TenantID, id)
		if errors.Is(err, entity.ErrConversationNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.Error("Conversation not found"))
			return
		}
		if err != nil {
			logger.Error("get handoff actions", slog.String("conversation_id", id), sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("Failed to load actions"))
			return
		}

		render.JSON(w, r, response.Ok(actions))
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
