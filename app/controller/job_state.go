package main

import (
	"net/http"

	"github.com/ebetica/batch-shipyard/pkg/client"
	"github.com/ebetica/batch-shipyard/pkg/store"
	"github.com/ebetica/batch-shipyard/pkg/util/context"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

func (h handlers) JobState(c echo.Context) error {
	ctx := context.FromContext(c.Request().Context())

	jobID := c.Param(client.JobIDParam)
	js, err := h.store.GetJobState(ctx, jobID)
	if err != nil {
		if store.IsNotFound(errors.Cause(err)) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, js)
}
