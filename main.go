// Command tipbot-backend runs the tip distribution webhook server.
//
// Startup order: environment → config → logging → database → tracing →
// Telegram client → services → dispatcher → HTTP server. Shutdown drains
// in-flight requests before flushing the tracer.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tccp/tipbot-backend/internal/bot"
	"github.com/tccp/tipbot-backend/internal/config"
	"github.com/tccp/tipbot-backend/internal/domain"
	httpapi "github.com/tccp/tipbot-backend/internal/http"
	"github.com/tccp/tipbot-backend/internal/observability"
	"github.com/tccp/tipbot-backend/internal/repo"
	"github.com/tccp/tipbot-backend/internal/services"
	"github.com/tccp/tipbot-backend/internal/sysutil"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using process environment")
	}

	cfg := config.MustLoad()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	gin.SetMode(cfg.GinMode)

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("opening database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("running migrations")
	}

	ctx := context.Background()
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("configuring tracing")
	}
	if cfg.OTEL.Enabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			log.Fatal().Err(err).Msg("instrumenting database")
		}
	}

	tg := bot.NewClient(cfg.Bot.Token, cfg.Bot.APIBase)
	if cfg.Bot.WebhookURL != "" {
		if err := tg.SetWebhook(ctx, cfg.Bot.WebhookURL+cfg.Bot.WebhookPath, cfg.Bot.WebhookSecret); err != nil {
			log.Fatal().Err(err).Msg("registering webhook")
		}
	}

	// Rand is left nil: RenderDenomination draws a fresh source per
	// announcement, which keeps concurrent fulfillments safe.
	claims := &services.ClaimService{
		DB:       db,
		Notifier: tg,
		Tracker:  &services.ContextTracker{DB: db},
		AdminID:  cfg.Bot.AdminID,
		BotName:  cfg.Bot.Username,
	}

	dispatcher := &bot.Dispatcher{
		DB:       db,
		Claims:   claims,
		Notifier: tg,
		AdminID:  cfg.Bot.AdminID,
		BotName:  cfg.Bot.Username,
		Defaults: bot.Defaults{
			TipAmount:   cfg.Tip.DefaultAmount,
			TipCurrency: domain.Currency(cfg.Tip.DefaultCurrency),
		},
		UpdateTTL: cfg.UpdateTTL,
	}

	engine := gin.New()
	httpapi.RegisterRoutes(engine, dispatcher, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Periodically drop expired processed-update rows so the dedupe table
	// stays small.
	purgeCtx, cancelPurge := context.WithCancel(ctx)
	go func() {
		t := time.NewTicker(time.Hour)
		defer t.Stop()
		for {
			select {
			case <-purgeCtx.Done():
				return
			case <-t.C:
				if err := repo.PurgeExpiredUpdates(purgeCtx, db, time.Now()); err != nil {
					log.Warn().Err(err).Msg("purging processed updates")
				}
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutting down")

	cancelPurge()
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracer shutdown")
	}
}
