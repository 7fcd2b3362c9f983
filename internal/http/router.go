package http

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"traffic-anpr-service/internal/config"
	"traffic-anpr-service/internal/metrics"
)

// NewRouter wires middleware, operational endpoints and the API routes.
// blobs may be nil when images live in an external bucket.
func NewRouter(cfg *config.Config, h *Handler, m *metrics.Metrics, blobs http.FileSystem, log zerolog.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log, m))
	r.Use(cors.New(corsConfig(cfg.Server.AllowedOrigins)))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if reg := m.Registry(); reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}
	if blobs != nil {
		r.StaticFS("/blobs", blobs)
	}

	h.Register(r, JWTAuth(cfg.Auth.JWTSecret, cfg.Auth.Issuer), WebhookToken(cfg.Webhook.Token))
	return r
}

func corsConfig(origins []string) cors.Config {
	cc := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	return cc
}
