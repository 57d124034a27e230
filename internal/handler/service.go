package handler

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/openshelf/library-service/internal/model"
	"github.com/openshelf/library-service/internal/service/borrowing"
	"github.com/openshelf/library-service/internal/service/catalog"
	"github.com/openshelf/library-service/internal/service/circulation"
	"github.com/openshelf/library-service/internal/service/fines"
	"github.com/openshelf/library-service/internal/service/inventory"
	"github.com/openshelf/library-service/internal/service/reservations"
	"github.com/openshelf/library-service/internal/service/users"
	"github.com/openshelf/library-service/pkg/auth"
)

//go:generate go run github.com/golang/mock/mockgen -source=service.go -destination=mocks/mock.go

var (
	_ UsersService       = (*users.Service)(nil)
	_ CatalogService     = (*catalog.Service)(nil)
	_ InventoryService   = (*inventory.Service)(nil)
	_ BorrowingService   = (*borrowing.Service)(nil)
	_ LoansService       = (*circulation.Service)(nil)
	_ FinesService       = (*fines.Service)(nil)
	_ ReservationService = (*reservations.Service)(nil)
)

type UsersService interface {
	Register(ctx context.Context, req model.RegisterRequest, allowRole bool) (model.User, error)
	Login(ctx context.Context, req model.LoginRequest) (model.LoginResponse, error)
	Get(ctx context.Context, username string) (model.User, error)
	List(ctx context.Context, page, size int) (model.ListUsers, error)
	SetActive(ctx context.Context, username string, active bool) error
}

type CatalogService interface {
	Create(ctx context.Context, req model.CreateBookRequest) (model.Book, error)
	Get(ctx context.Context, bookUid string) (model.Book, error)
	Update(ctx context.Context, bookUid string, req model.UpdateBookRequest) (model.Book, error)
	Delete(ctx context.Context, bookUid string) error
	List(ctx context.Context, f model.BookFilter) (model.ListBooks, error)
}

type InventoryService interface {
	AdjustTotals(ctx context.Context, bookUid string, total, available int) (model.Book, error)
}

type BorrowingService interface {
	Borrow(ctx context.Context, actor auth.Profile, req model.IssueLoanRequest) (model.Loan, error)
	Return(ctx context.Context, actor auth.Profile, loanUid string, req model.ReturnLoanRequest) (model.ReturnLoanResponse, error)
	Reserve(ctx context.Context, actor auth.Profile, req model.CreateReservationRequest) (model.Reservation, error)
	ReportLost(ctx context.Context, actor auth.Profile, loanUid string, req model.ReportLostRequest) (model.Loan, error)
}

type LoansService interface {
	Get(ctx context.Context, actor auth.Profile, loanUid string) (model.Loan, error)
	List(ctx context.Context, actor auth.Profile, f model.LoanFilter) (model.ListLoans, error)
	ListOverdue(ctx context.Context, f model.LoanFilter) (model.ListLoans, error)
	Extend(ctx context.Context, actor auth.Profile, loanUid string, req model.ExtendLoanRequest) (model.Loan, error)
}

type FinesService interface {
	Assess(ctx context.Context, actor auth.Profile, req model.AssessFineRequest) (model.Fine, error)
	Pay(ctx context.Context, actor auth.Profile, fineUid string, req model.PayFineRequest) (model.Fine, error)
	Waive(ctx context.Context, actor auth.Profile, fineUid string, req model.WaiveFineRequest) (model.Fine, error)
	Outstanding(ctx context.Context, userID int) (decimal.Decimal, error)
	Get(ctx context.Context, actor auth.Profile, fineUid string) (model.Fine, error)
	List(ctx context.Context, actor auth.Profile, f model.FineFilter) (model.ListFines, error)
}

type ReservationService interface {
	Cancel(ctx context.Context, actor auth.Profile, reservationUid string) (model.Reservation, error)
	Fulfill(ctx context.Context, actor auth.Profile, reservationUid string) (model.Reservation, error)
	AutoExpire(ctx context.Context) (int, error)
	List(ctx context.Context, actor auth.Profile, f model.ReservationFilter) (model.ListReservations, error)
}
