package http

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"golang-backtest/internal/dto"
	"golang-backtest/internal/model"
)

func (h *HttpAPIHandler) SetupBacktests(base *echo.Group) {
	v1 := base.Group("/v1/backtests")
	{
		v1.POST("", h.triggerBacktest)
		v1.GET("", h.listBacktests)
		v1.GET("/:id", h.getBacktest)
		v1.GET("/:id/report", h.getBacktestReport)
	}
}

// triggerBacktest accepts the run and returns immediately; the pipeline
// finishes in the background. Poll GET /:id for the outcome.
func (h *HttpAPIHandler) triggerBacktest(c echo.Context) error {
	ctx := c.Request().Context()

	req := new(dto.ResearchRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse("invalid request body"))
	}

	if err := h.validator.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse(err.Error()))
	}

	run, err := h.service.ResearchService.TriggerRun(ctx, *req)
	if err != nil {
		return c.JSON(http.StatusInternalServerError,
			dto.NewBaseResponse(http.StatusInternalServerError, err.Error(), nil))
	}

	return c.JSON(http.StatusAccepted,
		dto.NewBaseResponse(http.StatusAccepted, "Backtest run accepted", dto.FromRunModel(*run)))
}

func (h *HttpAPIHandler) listBacktests(c echo.Context) error {
	ctx := c.Request().Context()

	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse("limit must be a positive integer"))
		}
		limit = parsed
	}

	param := model.GetBacktestRunParam{Limit: &limit}
	if v := c.QueryParam("status"); v != "" {
		param.Statuses = []model.RunStatus{model.RunStatus(v)}
	}
	if v := c.QueryParam("mode"); v != "" {
		param.Modes = []model.RunMode{model.RunMode(v)}
	}

	runs, err := h.service.ResearchService.GetRuns(ctx, param)
	if err != nil {
		return c.JSON(http.StatusInternalServerError,
			dto.NewBaseResponse(http.StatusInternalServerError, err.Error(), nil))
	}

	resp := make([]dto.RunSummaryResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, dto.FromRunModel(run))
	}
	return c.JSON(http.StatusOK, dto.NewSuccessResponse(resp))
}

func (h *HttpAPIHandler) getBacktest(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse("invalid run id"))
	}

	run, err := h.service.ResearchService.GetRun(ctx, uint(id))
	if err != nil {
		return c.JSON(http.StatusInternalServerError,
			dto.NewBaseResponse(http.StatusInternalServerError, err.Error(), nil))
	}
	if run == nil {
		return c.JSON(http.StatusNotFound, dto.NewNotFoundResponse("run not found"))
	}

	return c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.FromRunModelDetail(*run)))
}

// getBacktestReport serves the rendered markdown itself, not a JSON wrapper,
// so it can be piped straight into a file or viewer.
func (h *HttpAPIHandler) getBacktestReport(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse("invalid run id"))
	}

	run, err := h.service.ResearchService.GetRun(ctx, uint(id))
	if err != nil {
		return c.JSON(http.StatusInternalServerError,
			dto.NewBaseResponse(http.StatusInternalServerError, err.Error(), nil))
	}
	if run == nil || !run.Report.Valid {
		return c.JSON(http.StatusNotFound, dto.NewNotFoundResponse("report not found"))
	}

	return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", []byte(run.Report.String))
}
