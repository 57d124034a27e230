package handler_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openshelf/library-service/internal/errs"
	"github.com/openshelf/library-service/internal/handler"
	mock_handler "github.com/openshelf/library-service/internal/handler/mocks"
	"github.com/openshelf/library-service/internal/model"
	"github.com/openshelf/library-service/pkg/auth"
	"github.com/openshelf/library-service/pkg/validate"
)

// withProfile stands in for the jwt middleware in tests.
func withProfile(p auth.Profile) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			c.SetRequest(req.WithContext(auth.SetAuthContext(req.Context(), p.Username, p.Role)))
			return next(c)
		}
	}
}

func TestHandler_GetBook(t *testing.T) {
	t.Parallel()
	type response struct {
		expectedCode int
		expectedBody string
	}
	type mockBehavior func(r *mock_handler.MockCatalogService, bookUid string)

	var tests = []struct {
		name         string
		bookUid      string
		mockBehavior mockBehavior
		response     response
	}{
		{
			name:    "ok",
			bookUid: "f7cdc58f-2caf-4b15-9727-f89dcc629b27",
			mockBehavior: func(r *mock_handler.MockCatalogService, bookUid string) {
				r.EXPECT().
					Get(gomock.Any(), bookUid).
					Return(model.Book{
						BookUid:         bookUid,
						Title:           "The Go Programming Language",
						Author:          "Alan A. A. Donovan",
						Category:        "programming",
						ISBN:            "978-0134190440",
						Status:          model.BookAvailable,
						TotalCopies:     3,
						AvailableCopies: 1,
					}, nil)
			},
			response: response{
				expectedCode: http.StatusOK,
				expectedBody: `{"bookUid":"f7cdc58f-2caf-4b15-9727-f89dcc629b27","title":"The Go Programming Language","author":"Alan A. A. Donovan","category":"programming","isbn":"978-0134190440","status":"available","totalCopies":3,"availableCopies":1,"createdAt":"0001-01-01T00:00:00Z"}`,
			},
		},
		{
			name:    "err. not found",
			bookUid: "83575e12-7ce0-48ee-9931-51919ff3c9ee",
			mockBehavior: func(r *mock_handler.MockCatalogService, bookUid string) {
				r.EXPECT().
					Get(gomock.Any(), bookUid).
					Return(model.Book{}, errs.ErrNotFound)
			},
			response: response{
				expectedCode: http.StatusNotFound,
				expectedBody: `{"message":"not found","code":"not_found"}`,
			},
		},
		{
			name:    "err. internal",
			bookUid: "83575e12-7ce0-48ee-9931-51919ff3c9ee",
			mockBehavior: func(r *mock_handler.MockCatalogService, bookUid string) {
				r.EXPECT().
					Get(gomock.Any(), bookUid).
					Return(model.Book{}, errors.New("db internal"))
			},
			response: response{
				expectedCode: http.StatusInternalServerError,
				expectedBody: `{"message":"db internal","code":"internal"}`,
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := gomock.NewController(t)
			defer c.Finish()
			catalogSvc := mock_handler.NewMockCatalogService(c)
			log := zap.NewExample().Named("test")
			h := handler.New(nil, catalogSvc, nil, nil, nil, nil, nil, auth.Config{}, log)

			e := echo.New()
			e.Validator = validate.NewCustomValidator()
			e.GET("/api/v1/books/:bookUid", h.GetBook)

			r := httptest.NewRequest(http.MethodGet, "/api/v1/books/"+tt.bookUid, http.NoBody)
			r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			w := httptest.NewRecorder()

			tt.mockBehavior(catalogSvc, tt.bookUid)
			e.ServeHTTP(w, r)

			require.Equal(t, tt.response.expectedCode, w.Code)
			require.Equal(t, tt.response.expectedBody, strings.Trim(w.Body.String(), "\n"))
		})
	}
}

func TestHandler_IssueLoan(t *testing.T) {
	t.Parallel()
	profile := auth.Profile{Username: "alice", Role: auth.RoleBorrower}
	type response struct {
		expectedCode int
		expectedBody string
	}
	type mockBehavior func(r *mock_handler.MockBorrowingService)

	var tests = []struct {
		name         string
		body         string
		mockBehavior mockBehavior
		response     response
	}{
		{
			name: "ok",
			body: `{"bookUid":"f7cdc58f-2caf-4b15-9727-f89dcc629b27"}`,
			mockBehavior: func(r *mock_handler.MockBorrowingService) {
				r.EXPECT().
					Borrow(gomock.Any(), profile, model.IssueLoanRequest{BookUid: "f7cdc58f-2caf-4b15-9727-f89dcc629b27"}).
					Return(model.Loan{
						LoanUid:  "9c45a32e-2f88-4b8a-b54e-b0d13d8262a6",
						Username: "alice",
						BookUid:  "f7cdc58f-2caf-4b15-9727-f89dcc629b27",
						Status:   model.LoanIssued,
					}, nil)
			},
			response: response{
				expectedCode: http.StatusCreated,
				expectedBody: `{"loanUid":"9c45a32e-2f88-4b8a-b54e-b0d13d8262a6","username":"alice","bookUid":"f7cdc58f-2caf-4b15-9727-f89dcc629b27","bookTitle":"","issueDate":"0001-01-01T00:00:00Z","dueDate":"0001-01-01T00:00:00Z","fineAmount":"0","status":"issued"}`,
			},
		},
		{
			name: "err. no copies",
			body: `{"bookUid":"f7cdc58f-2caf-4b15-9727-f89dcc629b27"}`,
			mockBehavior: func(r *mock_handler.MockBorrowingService) {
				r.EXPECT().
					Borrow(gomock.Any(), profile, gomock.Any()).
					Return(model.Loan{}, errs.ErrBookUnavailable)
			},
			response: response{
				expectedCode: http.StatusUnprocessableEntity,
				expectedBody: `{"message":"no available copies","code":"policy_violation"}`,
			},
		},
		{
			name: "err. outstanding fine",
			body: `{"bookUid":"f7cdc58f-2caf-4b15-9727-f89dcc629b27"}`,
			mockBehavior: func(r *mock_handler.MockBorrowingService) {
				r.EXPECT().
					Borrow(gomock.Any(), profile, gomock.Any()).
					Return(model.Loan{}, errs.ErrOutstandingFine)
			},
			response: response{
				expectedCode: http.StatusUnprocessableEntity,
				expectedBody: `{"message":"borrower has outstanding fines","code":"policy_violation"}`,
			},
		},
		{
			name:         "err. bookUid required",
			body:         `{}`,
			mockBehavior: func(r *mock_handler.MockBorrowingService) {},
			response: response{
				expectedCode: http.StatusBadRequest,
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := gomock.NewController(t)
			defer c.Finish()
			borrowingSvc := mock_handler.NewMockBorrowingService(c)
			log := zap.NewExample().Named("test")
			h := handler.New(nil, nil, nil, borrowingSvc, nil, nil, nil, auth.Config{}, log)

			e := echo.New()
			e.Validator = validate.NewCustomValidator()
			e.POST("/api/v1/loans", h.IssueLoan, withProfile(profile))

			r := httptest.NewRequest(http.MethodPost, "/api/v1/loans", strings.NewReader(tt.body))
			r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			w := httptest.NewRecorder()

			tt.mockBehavior(borrowingSvc)
			e.ServeHTTP(w, r)

			require.Equal(t, tt.response.expectedCode, w.Code)
			if tt.response.expectedBody != "" {
				require.Equal(t, tt.response.expectedBody, strings.Trim(w.Body.String(), "\n"))
			}
		})
	}
}

func TestHandler_PayFine(t *testing.T) {
	t.Parallel()
	profile := auth.Profile{Username: "alice", Role: auth.RoleBorrower}

	c := gomock.NewController(t)
	defer c.Finish()
	finesSvc := mock_handler.NewMockFinesService(c)
	h := handler.New(nil, nil, nil, nil, nil, finesSvc, nil, auth.Config{}, zap.NewExample().Named("test"))

	e := echo.New()
	e.Validator = validate.NewCustomValidator()
	e.POST("/api/v1/fines/:fineUid/pay", h.PayFine, withProfile(profile))

	finesSvc.EXPECT().
		Pay(gomock.Any(), profile, "c5a0b1ee-5720-4f76-9b1d-0f8c3f4aa001", model.PayFineRequest{Method: "card"}).
		Return(model.Fine{}, errs.ErrFinePaid)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/fines/c5a0b1ee-5720-4f76-9b1d-0f8c3f4aa001/pay", strings.NewReader(`{"method":"card"}`))
	r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, r)

	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, `{"message":"fine already paid","code":"conflict"}`, strings.Trim(w.Body.String(), "\n"))
}
