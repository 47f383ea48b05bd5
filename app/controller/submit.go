package main

import (
	"net/http"

	"github.com/ebetica/batch-shipyard/pkg/api"
	"github.com/ebetica/batch-shipyard/pkg/client"
	"github.com/ebetica/batch-shipyard/pkg/util/context"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func (h handlers) Submit(c echo.Context) error {
	ctx := context.FromContext(c.Request().Context())
	ctx = context.WithCorrelationID(ctx, uuid.New().String())

	var spec api.JobSpec
	if err := c.Bind(&spec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := h.sc.Submit(ctx, spec); err != nil {
		switch err.(type) {
		case api.ValidationError, api.CyclicDependencyError, api.UnknownDependencyError:
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusAccepted, client.SubmitResponse{
		JobID: spec.ID,
	})
}
