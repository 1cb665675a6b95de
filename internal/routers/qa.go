package routers

import (
	"errors"
	"net/http"

	"qa-api/internal/ctx"
	"qa-api/internal/handlers/answer"
	"qa-api/internal/qa"
	"qa-api/internal/shared"

	"github.com/labstack/echo/v4"
)

type QARouter struct {
	h *answer.Handler
}

func RegisterQARoutes(e *echo.Group, h *answer.Handler) {
	r := QARouter{h: h}

	e.POST("/tokenize", r.Tokenize)

	v1 := e.Group("v1")
	v1.POST("/qa", r.Answer)
	v1.GET("/models", r.GetModels)
}

func (r *QARouter) Answer(cc echo.Context) error {
	c := cc.(*ctx.Context)

	var req qa.InferenceRequest
	if err := readJSON(c, &req); err != nil {
		return writeError(c, shared.ErrInvalidRequest)
	}

	out, err := r.h.Answer(c.Request().Context(), c.Reqid, req)
	if err != nil {
		c.LogValues.AddError(err)
		rerr, _ := answer.Classify(err)
		return writeError(c, rerr)
	}

	c.LogValues.Model = out.Request.ModelID
	c.LogValues.ModelPath = out.Request.ModelPath
	c.LogValues.InputTokens = out.Tokens
	c.LogValues.SelectionPath = string(out.Path)
	c.LogValues.Cached = out.Cached
	return c.JSON(http.StatusOK, out.Result)
}

func (r *QARouter) Tokenize(cc echo.Context) error {
	c := cc.(*ctx.Context)

	var body shared.TokenizeBody
	if err := readJSON(c, &body); err != nil {
		return writeError(c, shared.ErrInvalidRequest)
	}

	res, err := r.h.Tokenize(c.Request().Context(), body)
	if err != nil {
		c.LogValues.AddError(err)
		var rerr *shared.RequestError
		if errors.As(err, &rerr) {
			return writeError(c, rerr)
		}
		return writeError(c, shared.ErrInternalServerError)
	}
	return c.JSON(http.StatusOK, res)
}

func (r *QARouter) GetModels(cc echo.Context) error {
	c := cc.(*ctx.Context)
	return c.JSON(http.StatusOK, r.h.ListModels())
}
