package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// noopLogger returns a slog.Logger that discards all output — keeps test
// output clean.
func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecoveryMiddleware_RendersErrorPageOnPanic(t *testing.T) {
	t.Parallel()

	engine := gin.New()
	engine.SetHTMLTemplate(pageTemplates)
	engine.Use(Recovery(noopLogger()))
	engine.GET("/panic", func(c *gin.Context) {
		panic("intentional test panic")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "An internal error occurred")
}

func TestRequestIDMiddleware_UniquePerRequest(t *testing.T) {
	t.Parallel()

	engine := gin.New()
	engine.Use(RequestID())
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	ids := make(map[string]struct{})
	for range 5 {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		engine.ServeHTTP(w, req)

		id := w.Header().Get("X-Request-ID")
		assert.NotEmpty(t, id)
		ids[id] = struct{}{}
	}
	assert.Len(t, ids, 5)
}

func TestRequestLogger_PassesThrough(t *testing.T) {
	t.Parallel()

	engine := gin.New()
	engine.Use(RequestLogger(noopLogger()))
	engine.GET("/", func(c *gin.Context) { c.String(http.StatusTeapot, "short and stout") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "short and stout", w.Body.String())
}
