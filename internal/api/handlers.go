package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pyconau/precord/internal/enroll"
	"github.com/pyconau/precord/internal/health"
)

// enrolmentService is the subset of *enroll.Service used by the HTTP
// handlers. Declaring it as an interface allows test doubles to be injected.
type enrolmentService interface {
	Join(ctx context.Context, token string) (string, error)
	Redirect(ctx context.Context, code, state string) (string, error)
	RunDeepHealth(ctx context.Context) map[string]health.ProbeResult
}

// Handler holds the dependencies shared across all HTTP handlers.
type Handler struct {
	enrol enrolmentService
}

// Join handles GET /join — the entry leg, reached from the link in the
// attendee's ticket email. On success the attendee is redirected into
// Discord's OAuth2 consent flow (or straight to the welcome channel when the
// ticket already finished registering).
func (h *Handler) Join(c *gin.Context) {
	location, err := h.enrol.Join(c.Request.Context(), c.Query("token"))
	if err != nil {
		renderFlowError(c, err)
		return
	}

	joinRedirects.Inc()
	c.Redirect(http.StatusFound, location)
}

// Redirect handles GET /redirect — the return leg from Discord's consent
// screen. On success the new guild member lands in the welcome channel.
func (h *Handler) Redirect(c *gin.Context) {
	location, err := h.enrol.Redirect(c.Request.Context(), c.Query("code"), c.Query("state"))
	if err != nil {
		renderFlowError(c, err)
		return
	}

	registrationsCompleted.Inc()
	c.Redirect(http.StatusFound, location)
}

// Health handles GET /health. It always returns 200 — the liveness probe.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// DeepHealth handles GET /health/deep. It probes Postgres, Pretix, and
// Discord and returns 200 only when every probe is OK.
func (h *Handler) DeepHealth(c *gin.Context) {
	probes := h.enrol.RunDeepHealth(c.Request.Context())

	allOK := true
	for _, p := range probes {
		if !p.OK {
			allOK = false
			break
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !allOK {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":       status,
		"dependencies": probes,
	})
}

// renderFlowError maps a flow failure onto the HTML error page. Anything
// that is not a FlowError is an unclassified bug and renders as a 500.
func renderFlowError(c *gin.Context, err error) {
	var flowErr *enroll.FlowError
	if errors.As(err, &flowErr) {
		renderErrorPage(c, flowErr.Status, flowErr.Message)
		return
	}
	renderErrorPage(c, http.StatusInternalServerError, "An internal error occurred")
}
