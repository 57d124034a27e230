package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/openshelf/library-service/internal/errs"
	"github.com/openshelf/library-service/pkg/auth"
	md "github.com/openshelf/library-service/pkg/middleware"
	"github.com/openshelf/library-service/pkg/validate"
)

type Handler struct {
	users        UsersService
	catalog      CatalogService
	inventory    InventoryService
	borrowing    BorrowingService
	loans        LoansService
	fines        FinesService
	reservations ReservationService
	authCfg      auth.Config
	log          *zap.Logger
}

func New(
	usersSvc UsersService,
	catalogSvc CatalogService,
	inventorySvc InventoryService,
	borrowingSvc BorrowingService,
	loansSvc LoansService,
	finesSvc FinesService,
	reservationSvc ReservationService,
	authCfg auth.Config,
	log *zap.Logger,
) *Handler {
	return &Handler{
		users:        usersSvc,
		catalog:      catalogSvc,
		inventory:    inventorySvc,
		borrowing:    borrowingSvc,
		loans:        loansSvc,
		fines:        finesSvc,
		reservations: reservationSvc,
		authCfg:      authCfg,
		log:          log,
	}
}

func (h *Handler) NewRouter() *echo.Echo {
	e := echo.New()
	const (
		baseRPS = 10
		apiRPS  = 100
	)
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 << 10, // 4 KB
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodOptions, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodPost, http.MethodDelete},
		AllowCredentials: true,
	}))

	base := e.Group("", md.NewRateLimiter(baseRPS))
	base.GET("/manage/health", h.Health)

	e.Validator = validate.NewCustomValidator()
	api := e.Group("/api/v1",
		middleware.RequestLoggerWithConfig(md.RequestLoggerConfig(h.log)),
		middleware.RequestID(),
		md.NewRateLimiter(apiRPS),
	)

	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)

	authed := api.Group("", md.JwtAuthentication(h.authCfg))
	staff := authed.Group("", md.StaffOnly)

	authed.GET("/users/me", h.Me)
	staff.GET("/users", h.ListUsers)
	staff.POST("/users", h.CreateUser)
	staff.PATCH("/users/:username/active", h.SetUserActive)

	authed.GET("/books", h.ListBooks)
	authed.GET("/books/:bookUid", h.GetBook)
	staff.POST("/books", h.CreateBook)
	staff.PATCH("/books/:bookUid", h.UpdateBook)
	staff.DELETE("/books/:bookUid", h.DeleteBook)
	staff.POST("/books/:bookUid/copies", h.AdjustCopies)

	authed.POST("/loans", h.IssueLoan)
	authed.GET("/loans", h.ListLoans)
	staff.GET("/loans/overdue", h.ListOverdueLoans)
	authed.GET("/loans/:loanUid", h.GetLoan)
	authed.POST("/loans/:loanUid/return", h.ReturnLoan)
	authed.POST("/loans/:loanUid/extend", h.ExtendLoan)
	staff.POST("/loans/:loanUid/lost", h.ReportLost)

	authed.POST("/reservations", h.CreateReservation)
	authed.GET("/reservations", h.ListReservations)
	authed.DELETE("/reservations/:reservationUid", h.CancelReservation)
	staff.POST("/reservations/:reservationUid/fulfill", h.FulfillReservation)
	staff.POST("/reservations/expire", h.ExpireReservations)

	authed.GET("/fines", h.ListFines)
	authed.GET("/fines/:fineUid", h.GetFine)
	authed.POST("/fines/:fineUid/pay", h.PayFine)
	staff.POST("/fines", h.AssessFine)
	staff.POST("/fines/:fineUid/waive", h.WaiveFine)

	return e
}

func (h *Handler) Health(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// httpError turns a service error into a JSON response carrying the
// error class next to the message.
func httpError(c echo.Context, err error) error {
	kind := errs.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindConflict:
		status = http.StatusConflict
	case errs.KindPolicyViolation:
		status = http.StatusUnprocessableEntity
	case errs.KindValidation:
		status = http.StatusBadRequest
	case errs.KindInvariantViolation, errs.KindInternal:
		status = http.StatusInternalServerError
	}
	if errors.Is(err, errs.ErrForbidden) {
		status = http.StatusForbidden
	}
	return c.JSON(status, errs.ErrorResponse{Message: err.Error(), Code: kind})
}

func actor(c echo.Context) (auth.Profile, error) {
	profile, err := auth.FromContext(c.Request().Context())
	if err != nil {
		return auth.Profile{}, echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	return profile, nil
}

func pageParams(c echo.Context) (page, size int, err error) {
	if pageParam := c.QueryParam("page"); pageParam != "" {
		if page, err = strconv.Atoi(pageParam); err != nil {
			return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "page is invalid")
		}
	}
	if sizeParam := c.QueryParam("size"); sizeParam != "" {
		if size, err = strconv.Atoi(sizeParam); err != nil {
			return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "size is invalid")
		}
	}
	return page, size, nil
}
