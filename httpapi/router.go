// Package httpapi exposes the plan service over HTTP with gin.
//
// Routes:
//
//	POST   /plan       create a plan
//	GET    /plan/:id   read a plan; honours If-None-Match
//	PATCH  /plan/:id   merge linked plan services; requires If-Match
//	DELETE /plan/:id   delete a plan and its records; requires If-Match
//	GET    /healthz    liveness
//	GET    /metrics    Prometheus metrics
//
// The /plan routes require a bearer token accepted by the configured
// [Authenticator].
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jacentio/espalier/plan"
)

// NewRouter builds the HTTP handler. A nil logger uses slog.Default().
func NewRouter(plans *plan.Service, auth Authenticator, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if auth == nil {
		auth = NopAuthenticator{}
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger), instrument())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &handler{plans: plans, logger: logger}
	g := r.Group("/plan", Authenticate(auth))
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.PATCH("/:id", h.patch)
	g.DELETE("/:id", h.delete)

	return r
}

// requestLogger logs one line per request, with the caller's subject once
// Authenticate has identified it.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		}
		if id := IdentityFrom(c); id != nil && id.Subject != "" {
			attrs = append(attrs, "subject", id.Subject)
		}
		logger.Debug("request", attrs...)
	}
}
