package inbound

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"OmniDesk/entity"
	"OmniDesk/internal/lib/api/response"
	"OmniDesk/internal/lib/sl"
)

// whatsappPayload is the WhatsApp Business Cloud webhook shape, reduced to
// the fields the engine consumes.
type whatsappPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					ID        string `json:"id"`
					From      string `json:"from"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
					Image struct {
						Link string `json:"link"`
					} `json:"image"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// WhatsApp accepts provider webhook deliveries. The response is always 200:
// a non-200 would trigger provider-side redelivery storms, and replays are
// already harmless thanks to message dedup.
func WhatsApp(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.inbound"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("channel", "whatsapp"),
		)
		tenantID := chi.URLParam(r, "tenant")

		var payload whatsappPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			logger.Warn("undecodable webhook body", sl.Err(err))
			render.JSON(w, r, response.Ok(nil))
			return
		}

		names := map[string]string{}
		for _, entry := range payload.Entry {
			for _, change := range entry.Changes {
				for _, contact := range change.Value.Contacts {
					names[contact.WaID] = contact.Profile.Name
				}
				for _, msg := range change.Value.Messages {
					event := entity.InboundEvent{
						TenantID:          tenantID,
						Channel:           entity.ChannelWhatsApp,
						PeerID:            msg.From,
						DisplayName:       names[msg.From],
						Text:              msg.Text.Body,
						MediaURL:          msg.Image.Link,
						ProviderMessageID: msg.ID,
						OccurredAt:        waTimestamp(msg.Timestamp),
					}
					if err := handler.HandleInbound(r.Context(), event); err != nil {
						logger.Error("inbound event failed",
							slog.String("provider_message_id", msg.ID), sl.Err(err))
					}
				}
			}
		}

		render.JSON(w, r, response.Ok(nil))
	}
}

// VerifyWhatsApp answers Meta's GET subscription handshake.
func VerifyWhatsApp(log *slog.Logger, verifyToken string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode := r.URL.Query().Get("hub.mode")
		token := r.URL.Query().Get("hub.verify_token")
		challenge := r.URL.Query().Get("hub.challenge")

		if mode == "subscribe" && token != "" && token == verifyToken {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(challenge))
			return
		}

		log.Warn("webhook verification rejected",
			sl.Module("http.handlers.inbound"),
			slog.String("mode", mode),
		)
		w.WriteHeader(http.StatusForbidden)
	}
}

func waTimestamp(ts string) time.Time {
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
