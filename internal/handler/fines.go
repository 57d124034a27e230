package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/openshelf/library-service/internal/model"
)

func (h *Handler) AssessFine(c echo.Context) error {
	profile, err := actor(c)
	if err != nil {
		return err
	}
	var req model.AssessFineRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	fine, err := h.fines.Assess(c.Request().Context(), profile, req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, fine)
}

func (h *Handler) PayFine(c echo.Context) error {
	profile, err := actor(c)
	if err != nil {
		return err
	}
	var req model.PayFineRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	fine, err := h.fines.Pay(c.Request().Context(), profile, c.Param("fineUid"), req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, fine)
}

func (h *Handler) WaiveFine(c echo.Context) error {
	profile, err := actor(c)
	if err != nil {
		return err
	}
	var req model.WaiveFineRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	fine, err := h.fines.Waive(c.Request().Context(), profile, c.Param("fineUid"), req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, fine)
}

func (h *Handler) GetFine(c echo.Context) error {
	profile, err := actor(c)
	if err != nil {
		return err
	}
	fine, err := h.fines.Get(c.Request().Context(), profile, c.Param("fineUid"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, fine)
}

func (h *Handler) ListFines(c echo.Context) error {
	profile, err := actor(c)
	if err != nil {
		return err
	}
	page, size, err := pageParams(c)
	if err != nil {
		return err
	}
	fines, err := h.fines.List(c.Request().Context(), profile, model.FineFilter{
		Username: c.QueryParam("username"),
		Status:   model.PaymentStatus(c.QueryParam("status")),
		Page:     page,
		Size:     size,
	})
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, fines)
}
