package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/openshelf/library-service/internal/model"
)

func (h *Handler) IssueLoan(c echo.Context) error {
	profile, err := actor(c)
	if err != nil {
		return err
	}
	var req model.IssueLoanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	loan, err := h.borrowing.Borrow(c.Request().Context(), profile, req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, loan)
}

func (h *Handler) ReturnLoan(c echo.Context) error {
	profile, err := actor(c)
	if err != nil {
		return err
	}
	var req model.ReturnLoanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	resp, err := h.borrowing.Return(c.Request().Context(), profile, c.Param("loanUid"), req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) ExtendLoan(c echo.Context) error {
	profile, err := actor(c)
	if err != nil {
		return err
	}
	var req model.ExtendLoanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	loan, err := h.loans.Extend(c.Request().Context(), profile, c.Param("loanUid"), req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, loan)
}

func (h *Handler) ReportLost(c echo.Context) error {
	profile, err := actor(c)
	if err != nil {
		return err
	}
	var req model.ReportLostRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	loan, err := h.borrowing.ReportLost(c.Request().Context(), profile, c.Param("loanUid"), req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, loan)
}

func (h *Handler) GetLoan(c echo.Context) error {
	profile, err := actor(c)
	if err != nil {
		return err
	}
	loan, err := h.loans.Get(c.Request().Context(), profile, c.Param("loanUid"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, loan)
}

func (h *Handler) ListLoans(c echo.Context) error {
	profile, err := actor(c)
	if err != nil {
		return err
	}
	page, size, err := pageParams(c)
	if err != nil {
		return err
	}
	loans, err := h.loans.List(c.Request().Context(), profile, model.LoanFilter{
		Username: c.QueryParam("username"),
		Page:     page,
		Size:     size,
	})
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, loans)
}

func (h *Handler) ListOverdueLoans(c echo.Context) error {
	page, size, err := pageParams(c)
	if err != nil {
		return err
	}
	loans, err := h.loans.ListOverdue(c.Request().Context(), model.LoanFilter{
		Username: c.QueryParam("username"),
		Page:     page,
		Size:     size,
	})
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, loans)
}
