package conversation

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"OmniDesk/entity"
	"OmniDesk/internal/lib/api/response"
)

// renderError maps domain errors onto status codes: unknown conversation is
// 404, closed/ownership conflicts are 409, everything else is 500.
func renderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, entity.ErrConversationNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("Conversation not found"))
	case errors.Is(err, entity.ErrConversationClosed):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Error("Conversation is closed"))
	case errors.Is(err, entity.ErrInvalidTransition):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Error(err.Error()))
	default:
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("Operation failed"))
	}
}
