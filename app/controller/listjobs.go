package main

import (
	"net/http"

	"github.com/ebetica/batch-shipyard/pkg/util/context"

	"github.com/labstack/echo/v4"
)

func (h handlers) ListJobs(c echo.Context) error {
	ctx := context.FromContext(c.Request().Context())
	jobs, err := h.store.ListJobs(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, jobs)
}
