package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sitsl/material-tracker/internal/bot"
	"github.com/sitsl/material-tracker/internal/config"
	"github.com/sitsl/material-tracker/internal/domain/logs"
	"github.com/sitsl/material-tracker/internal/domain/materials"
	"github.com/sitsl/material-tracker/internal/domain/users"
	"github.com/sitsl/material-tracker/internal/infra/db"
	httpx "github.com/sitsl/material-tracker/internal/infra/http"
	"github.com/sitsl/material-tracker/internal/infra/logger"
	"github.com/sitsl/material-tracker/internal/infra/metrics"
	"github.com/sitsl/material-tracker/internal/infra/notify"
	"github.com/sitsl/material-tracker/internal/ledger"
	"github.com/sitsl/material-tracker/internal/ledger/pgstore"
	"github.com/sitsl/material-tracker/internal/logbook"
	"github.com/sitsl/material-tracker/internal/report"
)

func main() {
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.App.Env)

	if err := db.Migrate(cfg.Postgres.DSN, log); err != nil {
		log.Error("migrations failed", "err", err)
		return
	}
	log.Info("migrations applied")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Error("db connect failed", "err", err)
		return
	}
	defer pool.Close()
	log.Info("db connected")

	userRepo := users.NewRepo(pool)
	for _, email := range cfg.Admins {
		if _, err := userRepo.Upsert(ctx, email, users.RoleAdmin); err != nil {
			log.Error("admin bootstrap failed", "email", email, "err", err)
			return
		}
	}

	var (
		notifier notify.Notifier = notify.Nop{}
		tgAPI    *tgbotapi.BotAPI
	)
	if cfg.Telegram.Token != "" && cfg.Telegram.AdminChatID != 0 {
		tgAPI, err = tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			log.Error("telegram init failed, alerts disabled", "err", err)
			tgAPI = nil
		} else {
			notifier = notify.NewTelegram(tgAPI, cfg.Telegram.AdminChatID)
		}
	}

	engine := ledger.NewEngine(pgstore.New(pool), ledger.Config{
		MaxRetries: cfg.Ledger.MaxRetries,
		RetryBase:  cfg.Ledger.RetryBase,
	})
	book := logbook.NewService(log, engine, metrics.NewLedger(prometheus.DefaultRegisterer), notifier, cfg.Stock.LowThreshold)

	materialRepo := materials.NewRepo(pool)
	logRepo := logs.NewRepo(pool)
	loc := cfg.Location()
	reports := report.NewService(logRepo, cfg.Report.Title, loc)

	srv := httpx.New(cfg.HTTP.Addr, cfg.Metrics.Enabled, httpx.Deps{
		Log:       log,
		Materials: materialRepo,
		Logs:      logRepo,
		Recorder:  book,
		Reports:   reports,
		Roles:     userRepo,
		Location:  loc,

		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		ReportsPerMinute: cfg.HTTP.ReportsPerMinute,

		Signatory: func(c users.Caller) report.Signatory {
			name := cfg.Report.ReceivedBy
			if name == "" {
				name = c.Email
			}
			return report.Signatory{Name: name, Position: cfg.Report.ReceivedPosition}
		},
	})
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
			stop()
		}
	}()
	log.Info("HTTP server started", "addr", cfg.HTTP.Addr)

	botDone := make(chan struct{})
	if tgAPI != nil {
		b := bot.New(tgAPI, log, cfg.Telegram.AdminChatID, materialRepo, reports,
			report.Signatory{Name: cfg.Report.ReceivedBy, Position: cfg.Report.ReceivedPosition})
		// Run calls tgAPI.StopReceivingUpdates once ctx is cancelled.
		go func() {
			defer close(botDone)
			if err := b.Run(ctx, 60); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("bot stopped", "err", err)
			}
		}()
		log.Info("telegram bot started", "admin_chat_id", cfg.Telegram.AdminChatID)
	} else {
		close(botDone)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", "err", err)
	}
	select {
	case <-botDone:
	case <-shutdownCtx.Done():
		log.Warn("telegram bot did not stop in time")
	}
	log.Info("graceful shutdown complete")
}
