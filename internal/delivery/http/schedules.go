package http

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"golang-backtest/internal/dto"
	"golang-backtest/internal/model"
)

func (h *HttpAPIHandler) SetupSchedules(base *echo.Group) {
	v1 := base.Group("/v1/schedules")
	{
		v1.GET("", h.listSchedules)
		v1.POST("", h.createSchedule)
		v1.POST("/run", h.runSchedules)
		v1.POST("/:id/run", h.runScheduleNow)
	}
}

func (h *HttpAPIHandler) listSchedules(c echo.Context) error {
	ctx := c.Request().Context()

	param := model.GetResearchScheduleParam{}
	if v := c.QueryParam("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse("active must be true or false"))
		}
		param.IsActive = &active
	}

	schedules, err := h.service.SchedulerService.GetSchedules(ctx, param)
	if err != nil {
		return c.JSON(http.StatusInternalServerError,
			dto.NewBaseResponse(http.StatusInternalServerError, err.Error(), nil))
	}

	resp := make([]dto.ScheduleResponse, 0, len(schedules))
	for _, sched := range schedules {
		resp = append(resp, dto.FromScheduleModel(sched))
	}
	return c.JSON(http.StatusOK, dto.NewSuccessResponse(resp))
}

func (h *HttpAPIHandler) createSchedule(c echo.Context) error {
	ctx := c.Request().Context()

	req := new(dto.CreateScheduleRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse("invalid request body"))
	}

	if err := h.validator.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse(err.Error()))
	}

	sched, err := h.service.SchedulerService.CreateSchedule(ctx, *req)
	if err != nil {
		return c.JSON(http.StatusInternalServerError,
			dto.NewBaseResponse(http.StatusInternalServerError, err.Error(), nil))
	}

	return c.JSON(http.StatusCreated,
		dto.NewBaseResponse(http.StatusCreated, "Schedule created", dto.FromScheduleModel(*sched)))
}

// runSchedules fires every due schedule. An external cron hitting this
// endpoint is enough to drive the whole system; the in-process ticker is
// optional.
func (h *HttpAPIHandler) runSchedules(c echo.Context) error {
	response := dto.NewBaseResponse(http.StatusOK, "Started due schedules", nil)
	if err := h.service.SchedulerService.Execute(c.Request().Context()); err != nil {
		response.Code = http.StatusInternalServerError
		response.Message = err.Error()
	}
	return c.JSON(response.Code, response)
}

func (h *HttpAPIHandler) runScheduleNow(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse("invalid schedule id"))
	}

	if err := h.service.SchedulerService.RunScheduleNow(ctx, uint(id)); err != nil {
		return c.JSON(http.StatusInternalServerError,
			dto.NewBaseResponse(http.StatusInternalServerError, err.Error(), nil))
	}
	return c.JSON(http.StatusOK, dto.NewBaseResponse(http.StatusOK, "Schedule started", nil))
}
