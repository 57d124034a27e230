package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/openshelf/library-service/internal/model"
)

func (h *Handler) ListBooks(c echo.Context) error {
	page, size, err := pageParams(c)
	if err != nil {
		return err
	}
	var showAll bool
	if showAllParam := c.QueryParam("showAll"); showAllParam != "" {
		if showAll, err = strconv.ParseBool(showAllParam); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "showAll is invalid")
		}
	}
	books, err := h.catalog.List(c.Request().Context(), model.BookFilter{
		Title:   c.QueryParam("title"),
		Author:  c.QueryParam("author"),
		ShowAll: showAll,
		Page:    page,
		Size:    size,
	})
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, books)
}

func (h *Handler) GetBook(c echo.Context) error {
	book, err := h.catalog.Get(c.Request().Context(), c.Param("bookUid"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, book)
}

func (h *Handler) CreateBook(c echo.Context) error {
	var req model.CreateBookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	book, err := h.catalog.Create(c.Request().Context(), req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, book)
}

func (h *Handler) UpdateBook(c echo.Context) error {
	var req model.UpdateBookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	book, err := h.catalog.Update(c.Request().Context(), c.Param("bookUid"), req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, book)
}

func (h *Handler) DeleteBook(c echo.Context) error {
	if err := h.catalog.Delete(c.Request().Context(), c.Param("bookUid")); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AdjustCopies(c echo.Context) error {
	var req model.AdjustCopiesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	book, err := h.inventory.AdjustTotals(c.Request().Context(), c.Param("bookUid"), req.TotalCopies, req.AvailableCopies)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, book)
}
