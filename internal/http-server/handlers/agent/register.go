package agent

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"OmniDesk/entity"
	"OmniDesk/internal/lib/api/cont"
	"OmniDesk/internal/lib/api/response"
	"OmniDesk/internal/lib/sl"
)

type RegisterRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// Register mints a new agent identity inside the caller's tenant. Admin
// only; the response carries the freshly minted token once.
func Register(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.agent"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		caller := cont.GetAgent(r.Context())
		if caller == nil {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, response.Error("No authenticated agent"))
			return
		}
		if caller.Role != entity.RoleAdmin {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, response.Error("Registering agents requires admin role"))
			return
		}

		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Invalid request body"))
			return
		}

		created, err := handler.RegisterAgent(caller.TenantID, req.Name, req.Role)
		if err != nil {
			logger.Error("register agent", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}

		render.JSON(w, r, response.Ok(created))
	}
}
