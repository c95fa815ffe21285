package inbound

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"OmniDesk/entity"
	"OmniDesk/internal/lib/api/response"
	"OmniDesk/internal/lib/sl"
)

// metaPayload covers the Messenger and Instagram webhook shape, which share
// the entry/messaging envelope.
type metaPayload struct {
	Entry []struct {
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Timestamp int64 `json:"timestamp"`
			Message   struct {
				MID         string `json:"mid"`
				Text        string `json:"text"`
				Attachments []struct {
					Type    string `json:"type"`
					Payload struct {
						URL string `json:"url"`
					} `json:"payload"`
				} `json:"attachments"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

// Meta accepts Messenger and Instagram webhook deliveries. Same always-200
// contract as the WhatsApp handler.
func Meta(log *slog.Logger, channel entity.Channel, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.inbound"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("channel", string(channel)),
		)
		tenantID := chi.URLParam(r, "tenant")

		var payload metaPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			logger.Warn("undecodable webhook body", sl.Err(err))
			render.JSON(w, r, response.Ok(nil))
			return
		}

		for _, entry := range payload.Entry {
			for _, messaging := range entry.Messaging {
				if messaging.Message.MID == "" {
					continue // delivery receipts, read events
				}
				mediaURL := ""
				if len(messaging.Message.Attachments) > 0 {
					mediaURL = messaging.Message.Attachments[0].Payload.URL
				}
				var occurredAt time.Time
				if messaging.Timestamp > 0 {
					occurredAt = time.UnixMilli(messaging.Timestamp)
				}
				event := entity.InboundEvent{
					TenantID:          tenantID,
					Channel:           channel,
					PeerID:            messaging.Sender.ID,
					Text:              messaging.Message.Text,
					MediaURL:          mediaURL,
					ProviderMessageID: messaging.Message.MID,
					OccurredAt:        occurredAt,
				}
				if err := handler.HandleInbound(r.Context(), event); err != nil {
					logger.Error("inbound event failed",
						slog.String("provider_message_id", messaging.Message.MID), sl.Err(err))
				}
			}
		}

		render.JSON(w, r, response.Ok(nil))
	}
}
