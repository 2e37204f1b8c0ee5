// Package api exposes the registration flow over HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router wraps a configured Gin engine and exposes it as an http.Handler.
type Router struct {
	engine *gin.Engine
}

// NewRouter constructs a Router with the full middleware chain and all routes
// registered. The middleware order:
//  1. Recovery — panic → error page
//  2. Tracing — trace context per request
//  3. RequestID — correlation ID per request
//  4. RequestLogger — structured request/response logging
//  5. Metrics — request counters and latency
func NewRouter(svc enrolmentService, serviceName string) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.SetHTMLTemplate(pageTemplates)

	engine.Use(Recovery(slog.Default()))
	engine.Use(Tracing(serviceName))
	engine.Use(RequestID())
	engine.Use(RequestLogger(slog.Default()))
	engine.Use(Metrics())

	h := &Handler{enrol: svc}

	engine.GET("/join", h.Join)
	engine.GET("/redirect", h.Redirect)

	engine.GET("/health", h.Health)
	engine.GET("/health/deep", h.DeepHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	engine.NoRoute(func(c *gin.Context) {
		renderErrorPage(c, http.StatusNotFound, "")
	})

	return &Router{engine: engine}
}

// Handler returns the underlying http.Handler for use with net/http servers.
func (r *Router) Handler() http.Handler {
	return r.engine
}
