package api

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"OmniDesk/entity"
	"OmniDesk/internal/config"
	"OmniDesk/internal/http-server/handlers/agent"
	"OmniDesk/internal/http-server/handlers/conversation"
	"OmniDesk/internal/http-server/handlers/errors"
	"OmniDesk/internal/http-server/handlers/inbound"
	"OmniDesk/internal/http-server/handlers/reporting"
	"OmniDesk/internal/http-server/handlers/rules"
	"OmniDesk/internal/http-server/middleware/authenticate"
	"OmniDesk/internal/http-server/middleware/timeout"
	"OmniDesk/internal/lib/sl"
	"OmniDesk/internal/ws"
)

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	log        *slog.Logger
}

type Handler interface {
	authenticate.Authenticate
	inbound.Core
	conversation.Core
	rules.Core
	reporting.Core
	agent.Core
}

func New(conf *config.Config, log *slog.Logger, handler Handler, hub *ws.Hub) error {

	server := Server{
		conf: conf,
		log:  log.With(sl.Module("api.server")),
	}

	router := chi.NewRouter()
	router.Use(timeout.Timeout(30))
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(render.SetContentType(render.ContentTypeJSON))

	router.NotFound(errors.NotFound(log))
	router.MethodNotAllowed(errors.NotAllowed(log))

	// provider webhooks and the visitor socket sit outside agent auth
	router.Route("/webhook", func(r chi.Router) {
		r.Get("/whatsapp/{tenant}", inbound.VerifyWhatsApp(log, conf.WhatsApp.VerifyToken))
		r.Post("/whatsapp/{tenant}", inbound.WhatsApp(log, handler))
		r.Post("/messenger/{tenant}", inbound.Meta(log, entity.ChannelMessenger, handler))
		r.Post("/instagram/{tenant}", inbound.Meta(log, entity.ChannelInstagram, handler))
	})

	router.Get("/ws/visitor", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeVisitorWs(hub, w, r)
	})
	// agent socket authenticates itself via token query parameter
	router.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, handler, w, r)
	})

	router.Route("/api/v1", func(v1 chi.Router) {
		v1.Use(authenticate.New(log, handler))

		v1.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversation.List(log, handler))
			r.Get("/{id}/messages", conversation.Messages(log, handler))
			r.Post("/{id}/assign", conversation.Assign(log, handler))
			r.Post("/{id}/transfer-agent", conversation.TransferAgent(log, handler))
			r.Post("/{id}/transfer-group", conversation.TransferGroup(log, handler))
			r.Post("/{id}/close", conversation.Close(log, handler))
			r.Post("/{id}/note", conversation.AddNote(log, handler))
			r.Post("/{id}/send", conversation.Send(log, handler))
		})
		v1.Route("/rules", func(r chi.Router) {
			r.Get("/", rules.Get(log, handler))
			r.Put("/", rules.Put(log, handler))
		})
		v1.Route("/handoff", func(r chi.Router) {
			r.Get("/sessions", reporting.Sessions(log, handler))
			r.Get("/sessions/{id}", reporting.Session(log, handler))
			r.Get("/actions/{id}", reporting.Actions(log, handler))
		})
		v1.Route("/agents", func(r chi.Router) {
			r.Post("/", agent.Register(log, handler))
		})
	})

	httpLog := slog.NewLogLogger(log.Handler(), slog.LevelError)
	server.httpServer = &http.Server{
		Handler:  router,
		ErrorLog: httpLog,
	}

	serverAddress := fmt.Sprintf("%s:%s", conf.Listen.BindIP, conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	server.log.Info("starting api server", slog.String("address", serverAddress))

	return server.httpServer.Serve(listener)
}
