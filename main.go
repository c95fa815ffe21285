package main

import (
	"context"
	"flag"
	"log/slog"
	"time"

	"OmniDesk/entity"
	"OmniDesk/impl/core"
	"OmniDesk/internal/config"
	repository "OmniDesk/internal/database"
	"OmniDesk/internal/events"
	"OmniDesk/internal/http-server/api"
	"OmniDesk/internal/lib/logger"
	"OmniDesk/internal/lib/sl"
	"OmniDesk/internal/service/agents"
	"OmniDesk/internal/service/audit"
	"OmniDesk/internal/service/autoreply"
	"OmniDesk/internal/service/handoff"
	"OmniDesk/internal/service/routing"
	"OmniDesk/internal/service/sender"
	"OmniDesk/internal/service/session"
	"OmniDesk/internal/ws"
)

func main() {

	configPath := flag.String("conf", "config.yml", "path to config file")
	logPath := flag.String("log", "/var/log/", "path to log file directory")
	flag.Parse()

	conf := config.MustLoad(*configPath)
	lg := logger.SetupLogger(conf.Env, *logPath)

	if conf.Telegram.Enabled {
		alertBot, err := logger.NewAlertBot(conf.Telegram.ApiKey, conf.Telegram.AdminId)
		if err != nil {
			lg.Error("failed to initialize telegram alerts", sl.Err(err))
		} else {
			lg = logger.SetupTelegramHandler(lg, alertBot, slog.LevelError)
			lg.With(
				slog.String("bot_name", conf.Telegram.BotName),
			).Info("telegram alerts initialized")
		}
	}

	lg.Info("starting omnidesk", slog.String("config", *configPath), slog.String("env", conf.Env))
	lg.Debug("debug messages enabled")

	sessionTimeout := time.Duration(conf.Session.TimeoutHours) * time.Hour
	handler := core.New(sessionTimeout, lg)

	agentService := agents.NewService(lg)
	handler.SetAgentService(agentService)

	db, err := repository.NewMongoClient(conf, lg)
	if err != nil {
		lg.With(
			sl.Err(err),
		).Error("mongo client")
	}
	if db != nil {
		if err := db.EnsureIndexes(); err != nil {
			lg.With(sl.Err(err)).Error("ensure mongo indexes")
		}

		agentService.SetRepository(db)
		handler.SetRepository(db)

		resolver := session.NewResolver(db, db, sessionTimeout, lg)
		handler.SetSessionResolver(resolver)

		defaults := entity.EffectiveRules{
			Enabled:          true,
			MaxBotAttempts:   conf.Routing.MaxBotAttempts,
			TransferKeywords: conf.Routing.Keywords,
		}
		handler.SetRoutingEngine(routing.NewEngine(db, defaults, lg))

		recorder := audit.NewRecorder(db, lg)
		handler.SetAuditor(recorder)

		machine := handoff.NewMachine(db, recorder, lg)
		machine.SetNotifier(handler)
		handler.SetHandoffMachine(machine)

		responder := autoreply.NewResponder(conf, db, lg)
		if responder != nil {
			handler.SetResponder(responder)
			lg.With(
				slog.String("model", conf.OpenAI.Model),
				sl.Secret("openai_key", conf.OpenAI.ApiKey),
			).Info("autoreply responder initialized")
		}

		lg.With(
			slog.String("host", conf.Mongo.Host),
			slog.String("port", conf.Mongo.Port),
			slog.String("user", conf.Mongo.User),
			slog.String("database", conf.Mongo.Database),
		).Info("mongo client initialized")
	}

	sendService := sender.NewService(conf, lg)
	handler.SetSender(sendService)
	go sendService.Start(context.Background())

	publisher, err := events.NewPublisher(conf, lg)
	if err != nil {
		lg.With(sl.Err(err)).Error("event publisher")
	}
	if publisher != nil {
		handler.SetEventPublisher(publisher)
		defer publisher.Close()
		lg.With(
			slog.String("exchange", conf.Rabbit.Exchange),
		).Info("event publisher initialized")
	}

	hub := ws.NewHub(lg)
	hub.SetHandler(handler)
	handler.SetBroadcaster(hub)
	go hub.Run()

	// *** blocking start with http server ***
	err = api.New(conf, lg, handler, hub)
	if err != nil {
		lg.Error("server start", sl.Err(err))
		return
	}
	lg.Error("service stopped")
}
