package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"qa-api/internal/ctx"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newEcho(log *zap.SugaredLogger) (*echo.Echo, *echo.Group) {
	e := echo.New()
	g := e.Group("")
	g.Use(NewRecoverMiddleware(log))
	g.Use(NewTrackMiddleware(log))
	return e, g
}

func TestTrackMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core).Sugar()
	e, g := newEcho(log)

	var seen *ctx.Context
	g.GET("/ok", func(c echo.Context) error {
		seen = c.(*ctx.Context)
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set("X-Request-Id", "upstream-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.True(t, strings.HasPrefix(seen.Reqid, "req_"))
	assert.Len(t, seen.Reqid, len("req_")+28)
	assert.Equal(t, seen.Reqid, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "upstream-1", seen.LogValues.ExternalID)

	entries := logs.FilterMessage("end_of_request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, http.StatusOK, seen.LogValues.StatusCode)
}

func TestTrackMiddlewareLogsErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e, g := newEcho(zap.New(core).Sugar())
	g.GET("/fail", func(c echo.Context) error {
		cc := c.(*ctx.Context)
		cc.LogValues.AddError(errors.New("model run failed"))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fail", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	entries := logs.FilterMessage("end_of_request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
}

func TestRecoverMiddleware(t *testing.T) {
	e, g := newEcho(zap.NewNop().Sugar())
	g.GET("/panic", func(c echo.Context) error {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
}

func TestRequireAPIKey(t *testing.T) {
	key := strings.Repeat("a", 32)
	e := echo.New()
	e.GET("/metrics", func(c echo.Context) error { return c.String(http.StatusOK, "metrics") }, RequireAPIKey(key))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + key, http.StatusOK},
		{"wrong key", "Bearer " + strings.Repeat("b", 32), http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
