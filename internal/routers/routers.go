// Package routers
package routers

import (
	"encoding/json"
	"io"

	"qa-api/internal/ctx"
	"qa-api/internal/shared"
)

// readJSON reads the request body into v. Any failure is reported as
// shared.ErrInvalidRequest with the cause in the log values.
func readJSON(c *ctx.Context, v any) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		c.LogValues.AddError(err)
		return shared.ErrInvalidRequest
	}
	if err := json.Unmarshal(body, v); err != nil {
		c.LogValues.AddError(err)
		return shared.ErrInvalidRequest
	}
	return nil
}

func writeError(c *ctx.Context, rerr *shared.RequestError) error {
	return c.JSON(rerr.StatusCode, shared.ErrorResponse{Error: rerr.Err.Error()})
}
