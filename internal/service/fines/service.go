// Package fines owns monetary penalties and their payment state.
// A settled (paid or waived) fine is immutable.
package fines

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
	CreateFine(ctx context.Context, fine model.Fine) (model.Fine, error)
	GetFine(ctx context.Context, fineUid string) (model.Fine, error)
	SettleFine(ctx context.Context, fineID int, status model.PaymentStatus, method *string, processedBy int, note string, when time.Time) error
	OutstandingTotal(ctx context.Context, userID int) (decimal.Decimal, error)
	ListFines(ctx context.Context, f model.FineFilter) (model.ListFines, error)
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
	GetLoan(ctx context.Context, loanUid string) (model.Loan, error)
}

type Service struct {
	log  *zap.Logger
	repo Repository
}

func NewService(repo Repository, log *zap.Logger) *Service {
	return &Service{
		log:  log,
		repo: repo,
	}
}

// Assess is the staff path for damage/lost/other penalties.
func (s *Service) Assess(ctx context.Context, actor auth.Profile, req model.AssessFineRequest) (model.Fine, error) {
	if req.Amount.IsNegative() {
		return model.Fine{}, errs.ErrInvalidAmount
	}
	// an overdue fine must point at its loan, the store deduplicates on it
	if req.Reason == model.FineOverdue && req.LoanUid == "" {
		return model.Fine{}, errs.ErrLoanRequired
	}
	borrower, err := s.repo.GetUserByUsername(ctx, req.Username)
	if err != nil {
		return model.Fine{}, err
	}
	fine := model.Fine{
		UserID: borrower.ID,
		Amount: req.Amount,
		Reason: req.Reason,
		Notes:  req.Notes,
	}
	if req.LoanUid != "" {
		loan, err := s.repo.GetLoan(ctx, req.LoanUid)
		if err != nil {
			return model.Fine{}, err
		}
		fine.LoanID = &loan.ID
	}
	return s.repo.CreateFine(ctx, fine)
}

// AssessOverdue records the lateness penalty computed at return time.
// The one-overdue-fine-per-loan invariant is enforced by the store.
func (s *Service) AssessOverdue(ctx context.Context, userID, loanID int, amount decimal.Decimal) (model.Fine, error) {
	return s.repo.CreateFine(ctx, model.Fine{
		UserID: userID,
		LoanID: &loanID,
		Amount: amount,
		Reason: model.FineOverdue,
	})
}

func (s *Service) Pay(ctx context.Context, actor auth.Profile, fineUid string, req model.PayFineRequest) (model.Fine, error) {
	fine, err := s.repo.GetFine(ctx, fineUid)
	if err != nil {
		return model.Fine{}, err
	}
	if fine.Username != actor.Username && !auth.IsStaff(actor.Role) {
		return model.Fine{}, errs.ErrForbidden
	}
	processor, err := s.repo.GetUserByUsername(ctx, actor.Username)
	if err != nil {
		return model.Fine{}, err
	}
	method := req.Method
	if err := s.repo.SettleFine(ctx, fine.ID, model.PaymentPaid, &method, processor.ID, fine.Notes, time.Now()); err != nil {
		return model.Fine{}, err
	}
	return s.repo.GetFine(ctx, fineUid)
}

func (s *Service) Waive(ctx context.Context, actor auth.Profile, fineUid string, req model.WaiveFineRequest) (model.Fine, error) {
	fine, err := s.repo.GetFine(ctx, fineUid)
	if err != nil {
		return model.Fine{}, err
	}
	processor, err := s.repo.GetUserByUsername(ctx, actor.Username)
	if err != nil {
		return model.Fine{}, err
	}
	note := fine.Notes
	if note != "" {
		note += "\n"
	}
	note += "waived: " + req.Reason
	if err := s.repo.SettleFine(ctx, fine.ID, model.PaymentWaived, nil, processor.ID, note, time.Now()); err != nil {
		return model.Fine{}, err
	}
	return s.repo.GetFine(ctx, fineUid)
}

// Outstanding is the gate the orchestrator checks before issuing a loan.
func (s *Service) Outstanding(ctx context.Context, userID int) (decimal.Decimal, error) {
	return s.repo.OutstandingTotal(ctx, userID)
}

func (s *Service) Get(ctx context.Context, actor auth.Profile, fineUid string) (model.Fine, error) {
	fine, err := s.repo.GetFine(ctx, fineUid)
	if err != nil {
		return model.Fine{}, err
	}
	if fine.Username != actor.Username && !auth.IsStaff(actor.Role) {
		return model.Fine{}, errs.ErrForbidden
	}
	return fine, nil
}

func (s *Service) List(ctx context.Context, actor auth.Profile, f model.FineFilter) (model.ListFines, error) {
	if !auth.IsStaff(actor.Role) {
		f.Username = actor.Username
	}
	return s.repo.ListFines(ctx, f)
}
