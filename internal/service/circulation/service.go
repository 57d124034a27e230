// Package circulation owns the loan record state machine:
// issued -> {returned, lost}. Overdue is a query-time predicate,
// never a stored transition.
package circulation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openshelf/library-service/internal/errs"
	"github.com/openshelf/library-service/internal/model"
	"github.com/openshelf/library-service/pkg/auth"
)

type Repository interface {
	CreateLoan(ctx context.Context, loan model.Loan) (model.Loan, error)
	GetLoan(ctx context.Context, loanUid string) (model.Loan, error)
	GetLoanForUpdate(ctx context.Context, loanUid string) (model.Loan, error)
	CountOpenLoans(ctx context.Context, userID int) (int, error)
	HasOpenLoan(ctx context.Context, userID, bookID int) (bool, error)
	CloseLoan(ctx context.Context, loanID int, status model.LoanStatus, returnDate time.Time, fineAmount decimal.Decimal, returnedBy int, notes string) error
	ExtendLoan(ctx context.Context, loanID int, newDue time.Time, note string) error
	ListLoans(ctx context.Context, f model.LoanFilter) (model.ListLoans, error)
	ListDueBetween(ctx context.Context, from, to time.Time) ([]model.Loan, error)
}

type Service struct {
	log    *zap.Logger
	repo   Repository
	policy model.Policy
}

func NewService(repo Repository, policy model.Policy, log *zap.Logger) *Service {
	return &Service{
		log:    log,
		repo:   repo,
		policy: policy,
	}
}

func (s *Service) Policy() model.Policy {
	return s.policy
}

// Open creates the loan record. Eligibility is the orchestrator's job;
// by the time Open runs, the copy is already reserved in the ledger.
func (s *Service) Open(ctx context.Context, borrower model.User, book model.Book, due time.Time, issuedBy int) (model.Loan, error) {
	return s.repo.CreateLoan(ctx, model.Loan{
		UserID:    borrower.ID,
		BookID:    book.ID,
		IssueDate: time.Now(),
		DueDate:   due,
		IssuedBy:  issuedBy,
	})
}

func (s *Service) GetOpenForUpdate(ctx context.Context, loanUid string) (model.Loan, error) {
	loan, err := s.repo.GetLoanForUpdate(ctx, loanUid)
	if err != nil {
		return model.Loan{}, err
	}
	if loan.Status != model.LoanIssued {
		return model.Loan{}, errs.ErrLoanClosed
	}
	return loan, nil
}

func (s *Service) OpenLoanCount(ctx context.Context, userID int) (int, error) {
	return s.repo.CountOpenLoans(ctx, userID)
}

func (s *Service) HasOpenLoan(ctx context.Context, userID, bookID int) (bool, error) {
	return s.repo.HasOpenLoan(ctx, userID, bookID)
}

// FineFor derives the overdue penalty at return time: started days of
// lateness times the daily rate. Returning on the due date is free.
func (s *Service) FineFor(loan model.Loan, returnedAt time.Time) decimal.Decimal {
	days := loan.OverdueDays(returnedAt)
	if days == 0 {
		return decimal.Zero
	}
	return s.policy.DailyFineRate.Mul(decimal.NewFromInt(int64(days)))
}

func (s *Service) Close(ctx context.Context, loanID int, status model.LoanStatus, returnedAt time.Time, fine decimal.Decimal, returnedBy int, notes string) error {
	return s.repo.CloseLoan(ctx, loanID, status, returnedAt, fine, returnedBy, notes)
}

func (s *Service) Extend(ctx context.Context, actor auth.Profile, loanUid string, req model.ExtendLoanRequest) (model.Loan, error) {
	loan, err := s.repo.GetLoan(ctx, loanUid)
	if err != nil {
		return model.Loan{}, err
	}
	if loan.Username != actor.Username && !auth.IsStaff(actor.Role) {
		return model.Loan{}, errs.ErrForbidden
	}
	if !req.NewDueDate.After(loan.DueDate) {
		return model.Loan{}, errs.ErrInvalidDate
	}
	note := "extended until " + req.NewDueDate.Format(time.DateOnly) + ": " + req.Reason
	if err := s.repo.ExtendLoan(ctx, loan.ID, req.NewDueDate.Time, note); err != nil {
		return model.Loan{}, err
	}
	return s.repo.GetLoan(ctx, loanUid)
}

func (s *Service) Get(ctx context.Context, actor auth.Profile, loanUid string) (model.Loan, error) {
	loan, err := s.repo.GetLoan(ctx, loanUid)
	if err != nil {
		return model.Loan{}, err
	}
	if loan.Username != actor.Username && !auth.IsStaff(actor.Role) {
		return model.Loan{}, errs.ErrForbidden
	}
	return loan, nil
}

func (s *Service) List(ctx context.Context, actor auth.Profile, f model.LoanFilter) (model.ListLoans, error) {
	if !auth.IsStaff(actor.Role) {
		f.Username = actor.Username
	}
	return s.repo.ListLoans(ctx, f)
}

func (s *Service) ListOverdue(ctx context.Context, f model.LoanFilter) (model.ListLoans, error) {
	f.OverdueOnly = true
	return s.repo.ListLoans(ctx, f)
}
