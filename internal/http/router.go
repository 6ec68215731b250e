// Package httpapi wires the HTTP transport (Gin) to the bot dispatcher and
// shared middleware. The server exposes exactly three surfaces: the webhook
// endpoint the messaging platform delivers updates to, a liveness probe, and
// Prometheus metrics.
//
// Middleware ordering follows the usual posture: tracing first, then the
// correlation ID, structured logging, panic recovery, a body cap, metrics,
// and finally the rate limiter guarding the webhook route.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tccp/tipbot-backend/internal/bot"
	"github.com/tccp/tipbot-backend/internal/config"
	"github.com/tccp/tipbot-backend/internal/http/middleware"
)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// UpdateHandler consumes one decoded webhook update. Satisfied by
// *bot.Dispatcher; tests substitute a recorder.
type UpdateHandler interface {
	Handle(ctx context.Context, upd *bot.Update)
}

// RegisterRoutes attaches all middleware and endpoints to the given engine.
func RegisterRoutes(r *gin.Engine, h UpdateHandler, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	if cfg.OTEL.Enabled {
		r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	}
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.MaxBodyBytes(1 << 20))
	r.Use(middleware.Metrics())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "route not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"code": "method_not_allowed", "message": "method not allowed"})
	})

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP())
	r.POST(cfg.Bot.WebhookPath, rl.Handler(), webhookHandler(h, cfg.Bot.WebhookSecret))
}

// webhookHandler decodes a platform update and hands it to the dispatcher.
// The endpoint always answers 200 for well-formed deliveries so the platform
// does not retry updates the bot has already acted on; processing failures
// surface through replies and logs, not the webhook status.
func webhookHandler(h UpdateHandler, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret != "" && c.GetHeader(secretHeader) != secret {
			c.JSON(http.StatusUnauthorized, gin.H{"code": "unauthorized", "message": "bad webhook secret"})
			return
		}

		var upd bot.Update
		if err := c.ShouldBindJSON(&upd); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("malformed webhook payload")
			c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "message": "malformed update"})
			return
		}

		h.Handle(c.Request.Context(), &upd)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}
