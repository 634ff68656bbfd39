package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/hyderomar92-ai/safeguard/internal/audit"
	"github.com/hyderomar92-ai/safeguard/internal/config"
	"github.com/hyderomar92-ai/safeguard/internal/lifecycle"
	"github.com/hyderomar92-ai/safeguard/internal/llm"
	"github.com/hyderomar92-ai/safeguard/internal/logging"
	"github.com/hyderomar92-ai/safeguard/internal/notify"
	"github.com/hyderomar92-ai/safeguard/internal/roster"
	"github.com/hyderomar92-ai/safeguard/internal/store"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	actor      string
}

// app is the wired engine for one command invocation.
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	store    store.Store
	audit    audit.Log
	roster   *roster.Roster
	notifier notify.Notifier
	svc      *lifecycle.Service
	gateway  llm.Gateway
	session  lifecycle.Session
	close    func() error
}

func openApp(ctx context.Context, gf *globalFlags) (*app, error) {
	cfg, err := config.Load(gf.configPath)
	if err != nil {
		return nil, badInput(err)
	}
	log := logging.New(cfg)

	a := &app{cfg: cfg, log: log, close: func() error { return nil }}

	switch cfg.Store.Driver {
	case "memory":
		a.store = store.NewMemory()
		a.audit = audit.NewMemory()
	default:
		dialect, err := store.ParseDialect(cfg.Store.Driver)
		if err != nil {
			return nil, badInput(err)
		}
		sqlStore, err := store.Open(ctx, dialect, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		a.store = sqlStore
		a.audit = audit.NewSQL(sqlStore.DB(), sqlStore.Dialect())
		a.close = sqlStore.Close
	}

	if a.roster, err = roster.Load(cfg.Roster.StudentsPath, cfg.Roster.MeetingsPath); err != nil {
		a.Close()
		return nil, badInput(err)
	}

	if cfg.Notify.TelegramToken != "" {
		tg, err := notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.notifier = tg
	} else {
		a.notifier = notify.Log{Logger: log}
	}

	a.svc = lifecycle.New(a.store, a.audit,
		lifecycle.WithLogger(log),
		lifecycle.WithNotifier(a.notifier, cfg.Review.AlertScore),
		lifecycle.WithRoster(a.roster.Names()),
	)
	a.gateway = llm.NewClient(llm.Options{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		Profile:     cfg.LLM.Profile,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		Logger:      log,
	})

	actor := gf.actor
	if actor == "" {
		actor = cfg.Session.Actor
	}
	a.session = lifecycle.Session{Actor: actor}

	log.WithFields(logrus.Fields{"store": cfg.Store.Driver, "provider": cfg.LLM.Provider}).Debug("engine ready")
	return a, nil
}

// Close releases the store.
func (a *app) Close() {
	if err := a.close(); err != nil {
		a.log.WithError(err).Warn("close store")
	}
}
