// Package borrowing is the lifecycle orchestrator: it sequences the
// ledger, the loan state machine, the fine calculator and the
// reservation queue for the borrower-facing use cases. Each use case
// runs as one transaction, so a failing step leaves nothing behind.
package borrowing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openshelf/library-service/internal/errs"
	"github.com/openshelf/library-service/internal/model"
	"github.com/openshelf/library-service/internal/service/circulation"
	"github.com/openshelf/library-service/internal/service/fines"
	"github.com/openshelf/library-service/internal/service/inventory"
	"github.com/openshelf/library-service/internal/service/notifier"
	"github.com/openshelf/library-service/internal/service/reservations"
	"github.com/openshelf/library-service/pkg/auth"
)

type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
}

type Service struct {
	log    *zap.Logger
	repo   Repository
	policy model.Policy

	ledger   *inventory.Service
	loans    *circulation.Service
	fines    *fines.Service
	queue    *reservations.Service
	notifier *notifier.Service
}

func NewService(
	repo Repository,
	policy model.Policy,
	ledger *inventory.Service,
	loans *circulation.Service,
	fineSvc *fines.Service,
	queue *reservations.Service,
	notifierSvc *notifier.Service,
	log *zap.Logger,
) *Service {
	return &Service{
		log:      log,
		repo:     repo,
		policy:   policy,
		ledger:   ledger,
		loans:    loans,
		fines:    fineSvc,
		queue:    queue,
		notifier: notifierSvc,
	}
}

// onBehalf resolves whose record the operation targets: staff may act
// for any borrower, everyone else only for themselves.
func (s *Service) onBehalf(ctx context.Context, actor auth.Profile, username string) (model.User, error) {
	if username == "" || username == actor.Username {
		return s.repo.GetUserByUsername(ctx, actor.Username)
	}
	if !auth.IsStaff(actor.Role) {
		return model.User{}, errs.ErrForbidden
	}
	return s.repo.GetUserByUsername(ctx, username)
}

// Borrow checks eligibility, reserves a copy and opens the loan, all
// under the book row lock inside one transaction.
func (s *Service) Borrow(ctx context.Context, actor auth.Profile, req model.IssueLoanRequest) (model.Loan, error) {
	var loan model.Loan
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		staff, err := s.repo.GetUserByUsername(ctx, actor.Username)
		if err != nil {
			return err
		}
		borrower, err := s.onBehalf(ctx, actor, req.Username)
		if err != nil {
			return err
		}
		book, err := s.ledger.GetBook(ctx, req.BookUid)
		if err != nil {
			return err
		}
		if err := s.ledger.LockBook(ctx, book.ID); err != nil {
			return err
		}
		if !borrower.Active {
			return errs.ErrBorrowerInactive
		}
		open, err := s.loans.OpenLoanCount(ctx, borrower.ID)
		if err != nil {
			return err
		}
		if open >= s.policy.BorrowLimit(borrower.Role) {
			return errs.ErrLimitExceeded
		}
		outstanding, err := s.fines.Outstanding(ctx, borrower.ID)
		if err != nil {
			return err
		}
		if outstanding.IsPositive() {
			return errs.ErrOutstandingFine
		}
		holding, err := s.loans.HasOpenLoan(ctx, borrower.ID, book.ID)
		if err != nil {
			return err
		}
		if holding {
			return errs.ErrDuplicateLoan
		}

		now := time.Now()
		due := now.AddDate(0, 0, s.policy.LoanPeriodDays)
		if req.DueDate != nil {
			due = req.DueDate.Time
		}
		if !due.After(now) {
			return errs.ErrInvalidDate
		}

		if err := s.ledger.ReserveCopy(ctx, book.ID); err != nil {
			return err
		}
		loan, err = s.loans.Open(ctx, borrower, book, due, staff.ID)
		return err
	})
	if err != nil {
		return model.Loan{}, err
	}
	s.notifier.LoanIssued(loan)
	return loan, nil
}

// Return closes the loan, assesses the lateness fine and releases the
// copy; afterwards the head of the reservation queue is told a copy is
// free.
func (s *Service) Return(ctx context.Context, actor auth.Profile, loanUid string, req model.ReturnLoanRequest) (model.ReturnLoanResponse, error) {
	var (
		resp model.ReturnLoanResponse
		fine *model.Fine
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		loan, err := s.loans.GetOpenForUpdate(ctx, loanUid)
		if err != nil {
			return err
		}
		if loan.Username != actor.Username && !auth.IsStaff(actor.Role) {
			return errs.ErrForbidden
		}
		staff, err := s.repo.GetUserByUsername(ctx, actor.Username)
		if err != nil {
			return err
		}
		if err := s.ledger.LockBook(ctx, loan.BookID); err != nil {
			return err
		}

		returnedAt := time.Now()
		amount := s.loans.FineFor(loan, returnedAt)
		if amount.IsPositive() {
			created, err := s.fines.AssessOverdue(ctx, loan.UserID, loan.ID, amount)
			if err != nil {
				return err
			}
			fine = &created
		}
		if err := s.loans.Close(ctx, loan.ID, model.LoanReturned, returnedAt, amount, staff.ID, req.Notes); err != nil {
			return err
		}
		if err := s.ledger.ReleaseCopy(ctx, loan.BookID); err != nil {
			return err
		}
		resp.FineAmount = amount
		return nil
	})
	if err != nil {
		return model.ReturnLoanResponse{}, err
	}

	loan, err := s.loans.Get(ctx, actor, loanUid)
	if err != nil {
		return model.ReturnLoanResponse{}, err
	}
	resp.Loan = loan

	s.notifier.LoanReturned(loan)
	if fine != nil {
		s.notifier.FineAssessed(*fine)
	}
	if next, err := s.queue.Next(ctx, loan.BookID); err == nil {
		s.notifier.ReservationAvailable(next)
	}
	return resp, nil
}

// Reserve places the borrower in the waiting queue for the book.
func (s *Service) Reserve(ctx context.Context, actor auth.Profile, req model.CreateReservationRequest) (model.Reservation, error) {
	var rsv model.Reservation
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		borrower, err := s.onBehalf(ctx, actor, req.Username)
		if err != nil {
			return err
		}
		rsv, err = s.queue.Create(ctx, borrower, req)
		return err
	})
	return rsv, err
}

// ReportLost closes the loan as lost, retires the copy from the owned
// pool and assesses a replacement fine when an amount is given.
func (s *Service) ReportLost(ctx context.Context, actor auth.Profile, loanUid string, req model.ReportLostRequest) (model.Loan, error) {
	if req.Amount.IsNegative() {
		return model.Loan{}, errs.ErrInvalidAmount
	}
	var assessed *model.Fine
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		loan, err := s.loans.GetOpenForUpdate(ctx, loanUid)
		if err != nil {
			return err
		}
		staff, err := s.repo.GetUserByUsername(ctx, actor.Username)
		if err != nil {
			return err
		}
		if err := s.ledger.LockBook(ctx, loan.BookID); err != nil {
			return err
		}
		if err := s.loans.Close(ctx, loan.ID, model.LoanLost, time.Now(), req.Amount, staff.ID, req.Notes); err != nil {
			return err
		}
		if err := s.ledger.RetireCopy(ctx, loan.BookID); err != nil {
			return err
		}
		if req.Amount.IsPositive() {
			created, err := s.fines.Assess(ctx, actor, model.AssessFineRequest{
				Username: loan.Username,
				LoanUid:  loan.LoanUid,
				Amount:   req.Amount,
				Reason:   model.FineLost,
				Notes:    req.Notes,
			})
			if err != nil {
				return err
			}
			assessed = &created
		}
		return nil
	})
	if err != nil {
		return model.Loan{}, err
	}
	if assessed != nil {
		s.notifier.FineAssessed(*assessed)
	}
	return s.loans.Get(ctx, actor, loanUid)
}
