package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/sanaka-srujana/tars-chat/internal/auth"
	"github.com/sanaka-srujana/tars-chat/internal/config"
	"github.com/sanaka-srujana/tars-chat/internal/metrics"
	"github.com/sanaka-srujana/tars-chat/internal/mw"
	"github.com/sanaka-srujana/tars-chat/internal/ws"
)

// HealthCheck probes one dependency for /healthz.
type HealthCheck func(ctx context.Context) error

// SetupRouter wires the gin middleware, the REST API and the websocket
// endpoint.
func SetupRouter(cfg config.Config, svc ws.Services, hub *ws.Hub, checks map[string]HealthCheck) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.CORSOrigins))
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", healthz(checks))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(svc, hub)
	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.Refresh)

	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, svc.Users))
	// Runs after auth, so buckets are per user rather than per IP.
	authed.Use(mw.RateLimit(rate.Every(time.Second/10), 30))

	authed.GET("/users", h.ListUsers)
	authed.GET("/users/me", h.Me)
	authed.PUT("/users/me", h.UpdateProfile)
	authed.PUT("/users/me/online", h.SetOnline)

	authed.GET("/conversations", h.ListConversations)
	authed.POST("/conversations", h.CreateConversation)
	authed.GET("/conversations/:id", h.GetConversation)
	authed.GET("/conversations/:id/messages", h.ListMessages)
	authed.POST("/conversations/:id/messages", h.SendMessage)
	authed.PUT("/conversations/:id/typing", h.SetTyping)
	authed.GET("/conversations/:id/typing", h.TypingUsers)
	authed.GET("/conversations/:id/unread", h.UnreadCount)
	authed.POST("/conversations/:id/read", h.MarkAsRead)
	authed.GET("/typing", h.AllTyping)

	authed.PATCH("/messages/:id", h.EditMessage)
	authed.DELETE("/messages/:id", h.DeleteMessage)
	authed.POST("/messages/:id/reactions", h.React)

	r.GET("/ws", ws.Serve(hub, cfg, svc))
	return r
}

func healthz(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		out := gin.H{"status": "ok"}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				log.Warn().Err(err).Str("check", name).Msg("healthz")
				status = http.StatusServiceUnavailable
				out["status"] = "degraded"
				out[name] = err.Error()
				continue
			}
			out[name] = "ok"
		}
		c.JSON(status, out)
	}
}
