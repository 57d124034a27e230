package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/openshelf/library-service/internal/model"
)

func (h *Handler) CreateReservation(c echo.Context) error {
	profile, err := actor(c)
	if err != nil {
		return err
	}
	var req model.CreateReservationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rsv, err := h.borrowing.Reserve(c.Request().Context(), profile, req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, rsv)
}

func (h *Handler) CancelReservation(c echo.Context) error {
	profile, err := actor(c)
	if err != nil {
		return err
	}
	rsv, err := h.reservations.Cancel(c.Request().Context(), profile, c.Param("reservationUid"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, rsv)
}

func (h *Handler) FulfillReservation(c echo.Context) error {
	profile, err := actor(c)
	if err != nil {
		return err
	}
	rsv, err := h.reservations.Fulfill(c.Request().Context(), profile, c.Param("reservationUid"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, rsv)
}

// ExpireReservations sweeps expired reservations on demand; the same
// sweep also runs on a timer inside the app.
func (h *Handler) ExpireReservations(c echo.Context) error {
	expired, err := h.reservations.AutoExpire(c.Request().Context())
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, model.ExpireReservationsResponse{Expired: expired})
}

func (h *Handler) ListReservations(c echo.Context) error {
	profile, err := actor(c)
	if err != nil {
		return err
	}
	page, size, err := pageParams(c)
	if err != nil {
		return err
	}
	var activeOnly bool
	if activeParam := c.QueryParam("activeOnly"); activeParam != "" {
		if activeOnly, err = strconv.ParseBool(activeParam); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "activeOnly is invalid")
		}
	}
	reservations, err := h.reservations.List(c.Request().Context(), profile, model.ReservationFilter{
		Username:   c.QueryParam("username"),
		BookUid:    c.QueryParam("bookUid"),
		ActiveOnly: activeOnly,
		Page:       page,
		Size:       size,
	})
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, reservations)
}
