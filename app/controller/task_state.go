package main

import (
	"net/http"

	"github.com/ebetica/batch-shipyard/pkg/client"
	"github.com/ebetica/batch-shipyard/pkg/store"
	"github.com/ebetica/batch-shipyard/pkg/util/context"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

func (h handlers) TaskState(c echo.Context) error {
	ctx := context.FromContext(c.Request().Context())

	jobID := c.Param(client.JobIDParam)
	taskID := c.Param(client.TaskIDParam)
	ts, err := h.store.GetTaskState(ctx, jobID, taskID)
	if err != nil {
		if store.IsNotFound(errors.Cause(err)) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, ts)
}
