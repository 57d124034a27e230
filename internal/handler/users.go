package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/openshelf/library-service/internal/model"
)

func (h *Handler) Register(c echo.Context) error {
	var req model.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	user, err := h.users.Register(c.Request().Context(), req, false)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, user)
}

func (h *Handler) Login(c echo.Context) error {
	var req model.LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	resp, err := h.users.Login(c.Request().Context(), req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Me(c echo.Context) error {
	profile, err := actor(c)
	if err != nil {
		return err
	}
	user, err := h.users.Get(c.Request().Context(), profile.Username)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}

// CreateUser is the staff path: unlike Register it may assign a role.
func (h *Handler) CreateUser(c echo.Context) error {
	var req model.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	user, err := h.users.Register(c.Request().Context(), req, true)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, user)
}

func (h *Handler) ListUsers(c echo.Context) error {
	page, size, err := pageParams(c)
	if err != nil {
		return err
	}
	users, err := h.users.List(c.Request().Context(), page, size)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, users)
}

func (h *Handler) SetUserActive(c echo.Context) error {
	username := c.Param("username")
	active, err := strconv.ParseBool(c.QueryParam("active"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "active is invalid")
	}
	if err := h.users.SetActive(c.Request().Context(), username, active); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusOK)
}
