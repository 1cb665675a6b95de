// Package middleware holds the echo middleware shared by every route
package middleware

import (
	"fmt"
	"time"

	"qa-api/internal/ctx"
	"qa-api/internal/metrics"
	"qa-api/internal/shared"

	"github.com/aidarkhanov/nanoid"
	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

const requestIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func NewTrackMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, _ := nanoid.Generate(requestIDAlphabet, 28)
			reqID := "req_" + id
			externalID := c.Request().Header.Get("X-Request-Id")
			logger := log.With(
				"request_id", reqID,
				"externalid", externalID,
			)
			c.Response().Header().Set("X-Request-Id", reqID)

			start := time.Now()
			cc := &ctx.Context{
				Context: c,
				Log:     logger,
				Reqid:   reqID,
				LogValues: &ctx.ContextLogValues{
					RequestID:  reqID,
					ExternalID: externalID,
					StartTime:  start,
					Path:       c.Path(),
				},
			}
			err := next(cc)
			if err != nil {
				cc.LogValues.AddError(err)
				c.Error(err)
			}

			lv := cc.LogValues
			lv.RequestDuration = time.Since(start)
			lv.StatusCode = cc.Response().Status
			switch {
			case lv.StatusCode >= 500:
				log.Errorw("end_of_request", "request", lv)
			case lv.StatusCode >= 400 || lv.Error != nil:
				log.Warnw("end_of_request", "request", lv)
			default:
				log.Infow("end_of_request", "request", lv)
			}
			metrics.ResponseCodes.WithLabelValues(cc.Path(), fmt.Sprintf("%d", lv.StatusCode)).Inc()
			return nil
		}
	}
}

func NewRecoverMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return emw.RecoverWithConfig(emw.RecoverConfig{
		StackSize: 1 << 10, // 1 KB
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			defer func() {
				_ = log.Sync()
			}()
			log.Errorw("Api Panic", "error", err.Error(), "stack", string(stack))
			return c.JSON(500, shared.ErrorResponse{Error: shared.ErrInternalServerError.Err.Error()})
		},
	})
}
