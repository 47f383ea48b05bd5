package main

import (
	"net/http"

	"github.com/ebetica/batch-shipyard/pkg/client"
	"github.com/ebetica/batch-shipyard/pkg/util/context"

	"github.com/labstack/echo/v4"
)

func (h handlers) Cancel(c echo.Context) error {
	ctx := context.FromContext(c.Request().Context())

	jobID := c.Param(client.JobIDParam)
	if err := h.sc.Cancel(ctx, jobID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
